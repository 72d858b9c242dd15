package shutdown

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"probity/core/events"
	"probity/core/types"
	nativecommon "probity/native/common"
	"probity/native/fixedpoint"
)

// InitiateShutdown freezes every collaborator, authorises the coordinator on
// the vault ledger and locks the stablecoin utilisation ratio.
func (e *Engine) InitiateShutdown(ctx context.Context, caller common.Address) error {
	return e.run(ctx, "initiateShutdown", caller, e.cfg.GovRole, func() (events.Event, error) {
		if e.state.Initiated {
			return nil, ErrAlreadyInitiated
		}
		totals, err := e.collab.VaultEngine.Totals()
		if err != nil {
			return nil, fmt.Errorf("shutdown: read totals: %w", err)
		}
		ratio, err := utilizationRatio(totals)
		if err != nil {
			return nil, err
		}

		switches := []struct {
			name string
			sw   nativecommon.ShutdownSwitch
		}{
			{TargetVaultEngine, e.collab.VaultEngine},
			{TargetPriceFeed, e.collab.PriceFeed},
			{TargetTeller, e.collab.Teller},
			{TargetTreasury, e.collab.Treasury},
			{TargetReservePool, e.collab.ReservePool},
			{TargetLiquidator, e.collab.Liquidator},
		}
		// On failure every flag raised so far is lowered again.
		frozen := make([]nativecommon.ShutdownSwitch, 0, len(switches))
		unwind := func(cause error) error {
			errs := []error{cause}
			for i := len(frozen) - 1; i >= 0; i-- {
				if err := frozen[i].SetShutdownFlag(false); err != nil {
					errs = append(errs, fmt.Errorf("shutdown: unfreeze: %w", err))
				}
			}
			return errors.Join(errs...)
		}
		for _, s := range switches {
			if err := s.sw.SetShutdownFlag(true); err != nil {
				return nil, unwind(fmt.Errorf("shutdown: freeze %s: %w", s.name, err))
			}
			frozen = append(frozen, s.sw)
		}
		if err := e.collab.VaultEngine.AuthorizeLiquidator(e.self); err != nil {
			return nil, unwind(fmt.Errorf("shutdown: authorise coordinator: %w", err))
		}

		now := e.clock.Now()
		e.state.Initiated = true
		e.state.InitiatedAt = now
		e.state.FinalUtilizationRatio = ratio

		evt := e.settlementEvent(events.TypeShutdownInitiated, caller)
		evt.Amounts = map[string]*uint256.Int{
			"totalDebt":             totals.TotalDebt,
			"totalEquity":           totals.TotalEquity,
			"finalUtilizationRatio": ratio,
		}
		return evt, nil
	})
}

// utilizationRatio is min(1, totalDebt/totalEquity) in ray precision, or
// zero when no equity was supplied.
func utilizationRatio(totals types.Totals) (*uint256.Int, error) {
	equity := fixedpoint.Copy(totals.TotalEquity)
	if equity.IsZero() {
		return new(uint256.Int), nil
	}
	ratio, err := fixedpoint.DivRay(totals.TotalDebt, equity)
	if err != nil {
		return nil, err
	}
	return fixedpoint.ClampRay(ratio), nil
}

// SwitchAddress rebinds one collaborator before settlement starts. The
// replacement must implement the interface of the named slot.
func (e *Engine) SwitchAddress(ctx context.Context, caller common.Address, which string, collaborator any) error {
	return e.run(ctx, "switchAddress", caller, e.cfg.GovRole, func() (events.Event, error) {
		if e.state.Initiated {
			return nil, ErrAlreadyInitiated
		}
		next := e.collab
		ok := false
		switch which {
		case TargetPriceFeed:
			next.PriceFeed, ok = collaborator.(PriceFeed)
		case TargetVaultEngine:
			next.VaultEngine, ok = collaborator.(VaultLedger)
		case TargetReservePool:
			next.ReservePool, ok = collaborator.(ReservePool)
		case TargetTeller:
			next.Teller, ok = collaborator.(nativecommon.ShutdownSwitch)
		case TargetTreasury:
			next.Treasury, ok = collaborator.(nativecommon.ShutdownSwitch)
		case TargetLiquidator:
			next.Liquidator, ok = collaborator.(nativecommon.ShutdownSwitch)
		default:
			return nil, fmt.Errorf("%w: unknown collaborator %q", ErrInvalidTarget, which)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %T cannot serve as %s", ErrInvalidTarget, collaborator, which)
		}
		e.collab = next

		evt := e.settlementEvent(events.TypeShutdownAddressSwitched, caller)
		evt.Target = which
		return evt, nil
	})
}

// ChangeWaitPeriod updates one of the settlement wait periods.
func (e *Engine) ChangeWaitPeriod(ctx context.Context, caller common.Address, which string, seconds uint64) error {
	return e.run(ctx, "changeWaitPeriod", caller, e.cfg.GovRole, func() (events.Event, error) {
		if seconds > uint64(math.MaxInt64/int64(time.Second)) {
			return nil, ErrArithmeticOverflow
		}
		period := time.Duration(seconds) * time.Second
		switch which {
		case WaitPeriodAuction:
			e.state.AuctionWaitPeriod = period
		case WaitPeriodSupplier:
			e.state.SupplierWaitPeriod = period
		default:
			return nil, fmt.Errorf("%w: unknown wait period %q", ErrInvalidTarget, which)
		}
		evt := e.settlementEvent(events.TypeShutdownWaitPeriodChanged, caller)
		evt.Target = which
		evt.Amounts = map[string]*uint256.Int{"seconds": uint256.NewInt(seconds)}
		return evt, nil
	})
}

// WaitPeriods returns the auction and supplier wait periods.
func (e *Engine) WaitPeriods() (auction, supplier time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.AuctionWaitPeriod, e.state.SupplierWaitPeriod
}

// SetFinalPrice locks the feed's current price for asset. The price can only
// be locked once.
func (e *Engine) SetFinalPrice(ctx context.Context, caller common.Address, asset types.AssetID) error {
	return e.run(ctx, "setFinalPrice", caller, e.cfg.GovRole, func() (events.Event, error) {
		if !e.state.Initiated {
			return nil, ErrNotYetInitiated
		}
		record := e.state.asset(asset).Clone()
		if record.priceSet() {
			return nil, fmt.Errorf("%w: final price for %s", ErrAlreadySet, asset)
		}
		price, err := e.collab.PriceFeed.GetPrice(asset)
		if err != nil {
			return nil, fmt.Errorf("shutdown: read price: %w", err)
		}
		if price == nil || price.IsZero() {
			return nil, ErrZeroPrice
		}
		record.FinalPrice = fixedpoint.Copy(price)
		e.state.Assets[asset] = record

		evt := e.settlementEvent(events.TypeShutdownFinalPriceLocked, caller)
		evt.Asset = asset
		evt.Amounts = map[string]*uint256.Int{"finalPrice": price}
		return evt, nil
	})
}
