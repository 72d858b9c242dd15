package shutdown

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"probity/core/types"
)

type assetEntry struct {
	ID                 types.AssetID
	FinalPrice         *uint256.Int
	Gap                *uint256.Int
	RedemptionRatio    *uint256.Int
	RedemptionRatioSet bool
}

type redeemedEntry struct {
	Asset  types.AssetID
	Holder common.Address
	Amount *uint256.Int
}

type balanceEntry struct {
	Holder common.Address
	Amount *uint256.Int
}

type snapshot struct {
	Initiated               bool
	InitiatedAtNanos        uint64
	FinalUtilizationRatio   *uint256.Int
	UnbackedDebt            *uint256.Int
	FinalDebtBalance        *uint256.Int
	FinalDebtBalanceSet     bool
	InvestorObligationRatio *uint256.Int
	FinalTotalReserve       *uint256.Int
	FinalTotalReserveSet    bool
	AuctionWaitPeriod       uint64
	SupplierWaitPeriod      uint64
	Assets                  []assetEntry
	CollRedeemed            []redeemedEntry
	Stablecoin              []balanceEntry
	VouchersRedeemed        []common.Address
}

// EncodeState serialises a state aggregate to RLP. Map entries are sorted so
// equal states produce equal bytes.
func EncodeState(s *State) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("shutdown: nil state")
	}
	snap := snapshot{
		Initiated:               s.Initiated,
		FinalUtilizationRatio:   s.FinalUtilizationRatio,
		UnbackedDebt:            s.UnbackedDebt,
		FinalDebtBalance:        s.FinalDebtBalance,
		FinalDebtBalanceSet:     s.FinalDebtBalanceSet,
		InvestorObligationRatio: s.InvestorObligationRatio,
		FinalTotalReserve:       s.FinalTotalReserve,
		FinalTotalReserveSet:    s.FinalTotalReserveSet,
		AuctionWaitPeriod:       uint64(s.AuctionWaitPeriod / time.Second),
		SupplierWaitPeriod:      uint64(s.SupplierWaitPeriod / time.Second),
	}
	if s.Initiated {
		snap.InitiatedAtNanos = uint64(s.InitiatedAt.UnixNano())
	}
	for id, record := range s.Assets {
		snap.Assets = append(snap.Assets, assetEntry{
			ID:                 id,
			FinalPrice:         record.FinalPrice,
			Gap:                record.Gap,
			RedemptionRatio:    record.RedemptionRatio,
			RedemptionRatioSet: record.RedemptionRatioSet,
		})
	}
	sort.Slice(snap.Assets, func(i, j int) bool {
		return bytes.Compare(snap.Assets[i].ID[:], snap.Assets[j].ID[:]) < 0
	})
	for id, holders := range s.CollRedeemed {
		for holder, amount := range holders {
			snap.CollRedeemed = append(snap.CollRedeemed, redeemedEntry{Asset: id, Holder: holder, Amount: amount})
		}
	}
	sort.Slice(snap.CollRedeemed, func(i, j int) bool {
		a, b := snap.CollRedeemed[i], snap.CollRedeemed[j]
		if c := bytes.Compare(a.Asset[:], b.Asset[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Holder[:], b.Holder[:]) < 0
	})
	for holder, amount := range s.Stablecoin {
		snap.Stablecoin = append(snap.Stablecoin, balanceEntry{Holder: holder, Amount: amount})
	}
	sort.Slice(snap.Stablecoin, func(i, j int) bool {
		return bytes.Compare(snap.Stablecoin[i].Holder[:], snap.Stablecoin[j].Holder[:]) < 0
	})
	for holder, redeemed := range s.VouchersRedeemed {
		if redeemed {
			snap.VouchersRedeemed = append(snap.VouchersRedeemed, holder)
		}
	}
	sort.Slice(snap.VouchersRedeemed, func(i, j int) bool {
		return bytes.Compare(snap.VouchersRedeemed[i][:], snap.VouchersRedeemed[j][:]) < 0
	})
	return rlp.EncodeToBytes(&snap)
}

// DecodeState restores a state aggregate produced by EncodeState.
func DecodeState(data []byte) (*State, error) {
	var snap snapshot
	if err := rlp.DecodeBytes(data, &snap); err != nil {
		return nil, fmt.Errorf("shutdown: decode state: %w", err)
	}
	s := newState(Config{
		AuctionWaitPeriod:  time.Duration(snap.AuctionWaitPeriod) * time.Second,
		SupplierWaitPeriod: time.Duration(snap.SupplierWaitPeriod) * time.Second,
	})
	s.Initiated = snap.Initiated
	if snap.Initiated {
		s.InitiatedAt = time.Unix(0, int64(snap.InitiatedAtNanos)).UTC()
	}
	s.FinalUtilizationRatio = orZero(snap.FinalUtilizationRatio)
	s.UnbackedDebt = orZero(snap.UnbackedDebt)
	s.FinalDebtBalance = orZero(snap.FinalDebtBalance)
	s.FinalDebtBalanceSet = snap.FinalDebtBalanceSet
	s.InvestorObligationRatio = orZero(snap.InvestorObligationRatio)
	s.FinalTotalReserve = orZero(snap.FinalTotalReserve)
	s.FinalTotalReserveSet = snap.FinalTotalReserveSet
	for _, entry := range snap.Assets {
		s.Assets[entry.ID] = &AssetRecord{
			FinalPrice:         orZero(entry.FinalPrice),
			Gap:                orZero(entry.Gap),
			RedemptionRatio:    orZero(entry.RedemptionRatio),
			RedemptionRatioSet: entry.RedemptionRatioSet,
		}
	}
	for _, entry := range snap.CollRedeemed {
		holders, ok := s.CollRedeemed[entry.Asset]
		if !ok {
			holders = make(map[common.Address]*uint256.Int)
			s.CollRedeemed[entry.Asset] = holders
		}
		holders[entry.Holder] = orZero(entry.Amount)
	}
	for _, entry := range snap.Stablecoin {
		s.Stablecoin[entry.Holder] = orZero(entry.Amount)
	}
	for _, holder := range snap.VouchersRedeemed {
		s.VouchersRedeemed[holder] = true
	}
	return s, nil
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}
