package shutdown

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"probity/core/types"
	nativecommon "probity/native/common"
)

// VaultLedger is the debt and equity ledger frozen by settlement. The caller
// argument identifies the coordinator for the ledger's privilege checks.
type VaultLedger interface {
	nativecommon.ShutdownSwitch
	Vault(asset types.AssetID, user common.Address) (types.Vault, error)
	Totals() (types.Totals, error)
	Liquidate(caller common.Address, asset types.AssetID, user common.Address, roles types.LiquidationRoles, collDelta, debtDelta, equityDelta *big.Int) error
	MoveStablecoin(caller, from, to common.Address, amount *uint256.Int) error
	MoveCollateral(caller common.Address, asset types.AssetID, from, to common.Address, amount *uint256.Int) error
	AuthorizeLiquidator(addr common.Address) error
}

type PriceFeed interface {
	nativecommon.ShutdownSwitch
	GetPrice(asset types.AssetID) (*uint256.Int, error)
}

type ReservePool interface {
	nativecommon.ShutdownSwitch
	Balance() (*uint256.Int, error)
	UnbackedDebt() (*uint256.Int, error)
	Vouchers(holder common.Address) (*uint256.Int, error)
	TotalVouchers() (*uint256.Int, error)
	SettleSystemDebt(amount *uint256.Int) error
	// ReinstateSystemDebt reverses a SettleSystemDebt of the same amount.
	ReinstateSystemDebt(amount *uint256.Int) error
	WriteOff(debtor common.Address, amount *uint256.Int) error
	PayVoucherRedemption(holder common.Address, amount *uint256.Int) error
}

type AccessControl interface {
	HasRole(addr common.Address, role string) bool
}

// Collaborator names accepted by SwitchAddress.
const (
	TargetPriceFeed   = "PriceFeed"
	TargetVaultEngine = "VaultEngine"
	TargetReservePool = "ReservePool"
	TargetTeller      = "Teller"
	TargetTreasury    = "Treasury"
	TargetLiquidator  = "Liquidator"
)

// Wait period names accepted by ChangeWaitPeriod.
const (
	WaitPeriodAuction  = "auctionWaitPeriod"
	WaitPeriodSupplier = "supplierWaitPeriod"
)

// Collaborators bundles the services a coordinator drives.
type Collaborators struct {
	VaultEngine VaultLedger
	PriceFeed   PriceFeed
	ReservePool ReservePool
	Teller      nativecommon.ShutdownSwitch
	Treasury    nativecommon.ShutdownSwitch
	Liquidator  nativecommon.ShutdownSwitch
	Access      AccessControl
}

func (c Collaborators) validate() error {
	if c.VaultEngine == nil || c.PriceFeed == nil || c.ReservePool == nil ||
		c.Teller == nil || c.Treasury == nil || c.Liquidator == nil || c.Access == nil {
		return errNilCollaborator
	}
	return nil
}
