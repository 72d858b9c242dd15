package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"probity/core/types"
)

const (
	TypeShutdownInitiated           = "shutdown.initiated"
	TypeShutdownAddressSwitched     = "shutdown.address_switched"
	TypeShutdownWaitPeriodChanged   = "shutdown.wait_period_changed"
	TypeShutdownFinalPriceLocked    = "shutdown.final_price_locked"
	TypeShutdownDebtProcessed       = "shutdown.debt_processed"
	TypeShutdownExcessFreed         = "shutdown.excess_collateral_freed"
	TypeShutdownReservesWrittenOff  = "shutdown.reserves_written_off"
	TypeShutdownDebtBalanceLocked   = "shutdown.final_debt_balance_locked"
	TypeShutdownObligationComputed  = "shutdown.investor_obligation_computed"
	TypeShutdownEquityProcessed     = "shutdown.equity_processed"
	TypeShutdownRedemptionComputed  = "shutdown.redemption_ratio_computed"
	TypeShutdownStablecoinReturned  = "shutdown.stablecoin_returned"
	TypeShutdownCollateralRedeemed  = "shutdown.collateral_redeemed"
	TypeShutdownSystemReserveLocked = "shutdown.final_system_reserve_locked"
	TypeShutdownVouchersRedeemed    = "shutdown.vouchers_redeemed"
)

// Settlement is a generic global-settlement event. Amount fields carry the
// raw fixed-point integers; their precision depends on the event type.
type Settlement struct {
	Kind    string
	Caller  common.Address
	Asset   types.AssetID
	User    common.Address
	Target  string
	Amounts map[string]*uint256.Int
	At      int64
}

func (s Settlement) EventType() string { return s.Kind }

func (s Settlement) Event() *types.Event {
	attrs := map[string]string{
		"caller": s.Caller.Hex(),
	}
	if !s.Asset.IsZero() {
		attrs["asset"] = s.Asset.String()
	}
	if s.User != (common.Address{}) {
		attrs["user"] = s.User.Hex()
	}
	if s.Target != "" {
		attrs["target"] = s.Target
	}
	for name, amount := range s.Amounts {
		attrs[name] = formatUint(amount)
	}
	if s.At != 0 {
		attrs["at"] = strconv.FormatInt(s.At, 10)
	}
	return &types.Event{Type: s.Kind, Attributes: attrs}
}

func formatUint(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
