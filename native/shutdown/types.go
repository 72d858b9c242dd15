package shutdown

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"probity/core/types"
	"probity/native/fixedpoint"
)

// AssetRecord is the settlement record of one collateral type.
type AssetRecord struct {
	// FinalPrice is the locked ray-precision price; zero until set.
	FinalPrice *uint256.Int `json:"finalPrice"`
	// Gap accumulates the uncovered debt in collateral units (wad).
	Gap *uint256.Int `json:"gap"`
	// RedemptionRatio is the ray-precision share of face value a stablecoin
	// holder can redeem in this asset.
	RedemptionRatio    *uint256.Int `json:"redemptionRatio"`
	RedemptionRatioSet bool         `json:"redemptionRatioSet"`
}

func newAssetRecord() *AssetRecord {
	return &AssetRecord{
		FinalPrice:      new(uint256.Int),
		Gap:             new(uint256.Int),
		RedemptionRatio: new(uint256.Int),
	}
}

// Clone returns a deep copy of the record.
func (r *AssetRecord) Clone() *AssetRecord {
	if r == nil {
		return nil
	}
	return &AssetRecord{
		FinalPrice:         fixedpoint.Copy(r.FinalPrice),
		Gap:                fixedpoint.Copy(r.Gap),
		RedemptionRatio:    fixedpoint.Copy(r.RedemptionRatio),
		RedemptionRatioSet: r.RedemptionRatioSet,
	}
}

func (r *AssetRecord) priceSet() bool {
	return r != nil && r.FinalPrice != nil && !r.FinalPrice.IsZero()
}

// State is the settlement aggregate owned by a single coordinator.
type State struct {
	Initiated   bool      `json:"initiated"`
	InitiatedAt time.Time `json:"initiatedAt"`

	FinalUtilizationRatio   *uint256.Int `json:"finalUtilizationRatio"`
	UnbackedDebt            *uint256.Int `json:"unbackedDebt"`
	FinalDebtBalance        *uint256.Int `json:"finalDebtBalance"`
	FinalDebtBalanceSet     bool         `json:"finalDebtBalanceSet"`
	InvestorObligationRatio *uint256.Int `json:"investorObligationRatio"`
	FinalTotalReserve       *uint256.Int `json:"finalTotalReserve"`
	FinalTotalReserveSet    bool         `json:"finalTotalReserveSet"`

	AuctionWaitPeriod  time.Duration `json:"auctionWaitPeriod"`
	SupplierWaitPeriod time.Duration `json:"supplierWaitPeriod"`

	Assets           map[types.AssetID]*AssetRecord                     `json:"assets"`
	CollRedeemed     map[types.AssetID]map[common.Address]*uint256.Int `json:"collRedeemed"`
	Stablecoin       map[common.Address]*uint256.Int                    `json:"stablecoin"`
	VouchersRedeemed map[common.Address]bool                            `json:"vouchersRedeemed"`
}

func newState(cfg Config) *State {
	return &State{
		FinalUtilizationRatio:   new(uint256.Int),
		UnbackedDebt:            new(uint256.Int),
		FinalDebtBalance:        new(uint256.Int),
		InvestorObligationRatio: new(uint256.Int),
		FinalTotalReserve:       new(uint256.Int),
		AuctionWaitPeriod:       cfg.AuctionWaitPeriod,
		SupplierWaitPeriod:      cfg.SupplierWaitPeriod,
		Assets:                  make(map[types.AssetID]*AssetRecord),
		CollRedeemed:            make(map[types.AssetID]map[common.Address]*uint256.Int),
		Stablecoin:              make(map[common.Address]*uint256.Int),
		VouchersRedeemed:        make(map[common.Address]bool),
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := &State{
		Initiated:               s.Initiated,
		InitiatedAt:             s.InitiatedAt,
		FinalUtilizationRatio:   fixedpoint.Copy(s.FinalUtilizationRatio),
		UnbackedDebt:            fixedpoint.Copy(s.UnbackedDebt),
		FinalDebtBalance:        fixedpoint.Copy(s.FinalDebtBalance),
		FinalDebtBalanceSet:     s.FinalDebtBalanceSet,
		InvestorObligationRatio: fixedpoint.Copy(s.InvestorObligationRatio),
		FinalTotalReserve:       fixedpoint.Copy(s.FinalTotalReserve),
		FinalTotalReserveSet:    s.FinalTotalReserveSet,
		AuctionWaitPeriod:       s.AuctionWaitPeriod,
		SupplierWaitPeriod:      s.SupplierWaitPeriod,
		Assets:                  make(map[types.AssetID]*AssetRecord, len(s.Assets)),
		CollRedeemed:            make(map[types.AssetID]map[common.Address]*uint256.Int, len(s.CollRedeemed)),
		Stablecoin:              make(map[common.Address]*uint256.Int, len(s.Stablecoin)),
		VouchersRedeemed:        make(map[common.Address]bool, len(s.VouchersRedeemed)),
	}
	for id, record := range s.Assets {
		clone.Assets[id] = record.Clone()
	}
	for id, holders := range s.CollRedeemed {
		inner := make(map[common.Address]*uint256.Int, len(holders))
		for addr, amount := range holders {
			inner[addr] = fixedpoint.Copy(amount)
		}
		clone.CollRedeemed[id] = inner
	}
	for addr, amount := range s.Stablecoin {
		clone.Stablecoin[addr] = fixedpoint.Copy(amount)
	}
	for addr, redeemed := range s.VouchersRedeemed {
		clone.VouchersRedeemed[addr] = redeemed
	}
	return clone
}

func (s *State) asset(id types.AssetID) *AssetRecord {
	if record, ok := s.Assets[id]; ok {
		return record
	}
	return newAssetRecord()
}

func (s *State) collRedeemed(id types.AssetID, holder common.Address) *uint256.Int {
	return fixedpoint.Copy(s.CollRedeemed[id][holder])
}
