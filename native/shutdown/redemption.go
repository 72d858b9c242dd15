package shutdown

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"probity/core/events"
	"probity/core/types"
	"probity/native/fixedpoint"
)

// CalculateRedemptionRatio fixes the share of face value a stablecoin holder
// recovers in asset. The ratio is (finalDebtBalance - gap*price) /
// finalDebtBalance, saturating at zero, and one ray when no debt is left.
func (e *Engine) CalculateRedemptionRatio(ctx context.Context, caller common.Address, asset types.AssetID) error {
	return e.run(ctx, "calculateRedemptionRatio", caller, e.cfg.GovRole, func() (events.Event, error) {
		if !e.state.FinalDebtBalanceSet {
			return nil, fmt.Errorf("%w: final debt balance must be set first", ErrNotSet)
		}
		record, err := e.lockedPrice(asset)
		if err != nil {
			return nil, err
		}
		if record.RedemptionRatioSet {
			return nil, fmt.Errorf("%w: redemption ratio for %s", ErrAlreadySet, asset)
		}
		gapValue, err := fixedpoint.Mul(record.Gap, record.FinalPrice)
		if err != nil {
			return nil, err
		}
		ratio, err := redemptionRatio(e.state.FinalDebtBalance, gapValue)
		if err != nil {
			return nil, err
		}
		record.RedemptionRatio = ratio
		record.RedemptionRatioSet = true
		e.state.Assets[asset] = record

		evt := e.settlementEvent(events.TypeShutdownRedemptionComputed, caller)
		evt.Asset = asset
		evt.Amounts = map[string]*uint256.Int{
			"redemptionRatio": ratio,
			"gapValue":        gapValue,
		}
		return evt, nil
	})
}

func redemptionRatio(finalDebt, gapValue *uint256.Int) (*uint256.Int, error) {
	debt := fixedpoint.Copy(finalDebt)
	if debt.IsZero() {
		return fixedpoint.One(fixedpoint.UnitRay), nil
	}
	if !fixedpoint.Copy(gapValue).Lt(debt) {
		return new(uint256.Int), nil
	}
	backed, err := fixedpoint.Sub(debt, gapValue)
	if err != nil {
		return nil, err
	}
	ratio, err := fixedpoint.DivRay(backed, debt)
	if err != nil {
		return nil, err
	}
	return fixedpoint.ClampRay(ratio), nil
}

// ReturnStablecoin moves amount of the caller's stablecoin into the
// coordinator and credits it towards collateral redemption.
func (e *Engine) ReturnStablecoin(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	return e.run(ctx, "returnStablecoin", caller, e.cfg.HolderRole, func() (events.Event, error) {
		if !e.state.Initiated {
			return nil, ErrNotYetInitiated
		}
		if amount == nil || amount.IsZero() {
			return nil, ErrNothingToRedeem
		}
		balance, err := fixedpoint.Add(e.state.Stablecoin[caller], amount)
		if err != nil {
			return nil, err
		}
		if err := e.collab.VaultEngine.MoveStablecoin(e.self, caller, e.self, amount); err != nil {
			return nil, fmt.Errorf("shutdown: move stablecoin: %w", err)
		}
		e.state.Stablecoin[caller] = balance

		evt := e.settlementEvent(events.TypeShutdownStablecoinReturned, caller)
		evt.User = caller
		evt.Amounts = map[string]*uint256.Int{
			"amount":  fixedpoint.Copy(amount),
			"balance": balance,
		}
		return evt, nil
	})
}

// RedeemCollateral releases the collateral the caller's returned stablecoin
// entitles them to, net of what earlier calls already released.
func (e *Engine) RedeemCollateral(ctx context.Context, caller common.Address, asset types.AssetID) error {
	return e.run(ctx, "redeemCollateral", caller, e.cfg.HolderRole, func() (events.Event, error) {
		record := e.state.asset(asset)
		if !record.RedemptionRatioSet {
			return nil, fmt.Errorf("%w: redemption ratio for %s", ErrNotSet, asset)
		}
		total, err := fixedpoint.MulRay(e.state.Stablecoin[caller], record.RedemptionRatio)
		if err != nil {
			return nil, err
		}
		previous := e.state.collRedeemed(asset, caller)
		if !total.Gt(previous) {
			return nil, ErrNothingToRedeem
		}
		release, err := collateralDelta(previous, total, record.FinalPrice)
		if err != nil {
			return nil, err
		}
		if release.IsZero() {
			return nil, ErrNothingToRedeem
		}
		if err := e.collab.VaultEngine.MoveCollateral(e.self, asset, e.self, caller, release); err != nil {
			return nil, fmt.Errorf("shutdown: release collateral: %w", err)
		}
		holders, ok := e.state.CollRedeemed[asset]
		if !ok {
			holders = make(map[common.Address]*uint256.Int)
			e.state.CollRedeemed[asset] = holders
		}
		holders[caller] = total

		evt := e.settlementEvent(events.TypeShutdownCollateralRedeemed, caller)
		evt.Asset, evt.User = asset, caller
		evt.Amounts = map[string]*uint256.Int{
			"released":     release,
			"collRedeemed": total,
		}
		return evt, nil
	})
}

// collateralDelta converts two cumulative redeemed values to collateral at
// price and returns the difference, so repeated partial redemptions add up
// to a single redemption of the final total.
func collateralDelta(previous, total, price *uint256.Int) (*uint256.Int, error) {
	before, err := fixedpoint.Div(previous, price)
	if err != nil {
		return nil, err
	}
	after, err := fixedpoint.Div(total, price)
	if err != nil {
		return nil, err
	}
	return fixedpoint.Sub(after, before)
}

// SetFinalSystemReserve locks the reserve pool balance that voucher holders
// share.
func (e *Engine) SetFinalSystemReserve(ctx context.Context, caller common.Address) error {
	return e.run(ctx, "setFinalSystemReserve", caller, e.cfg.GovRole, func() (events.Event, error) {
		if !e.state.Initiated {
			return nil, ErrNotYetInitiated
		}
		if !e.state.FinalDebtBalanceSet {
			return nil, fmt.Errorf("%w: final debt balance must be set first", ErrNotSet)
		}
		if e.state.FinalTotalReserveSet {
			return nil, fmt.Errorf("%w: final system reserve", ErrAlreadySet)
		}
		reserve, err := e.collab.ReservePool.Balance()
		if err != nil {
			return nil, fmt.Errorf("shutdown: read reserve: %w", err)
		}
		e.state.FinalTotalReserve = fixedpoint.Copy(reserve)
		e.state.FinalTotalReserveSet = true

		evt := e.settlementEvent(events.TypeShutdownSystemReserveLocked, caller)
		evt.Amounts = map[string]*uint256.Int{"finalTotalReserve": e.state.FinalTotalReserve}
		return evt, nil
	})
}

// RedeemVouchers pays the caller a pro-rata share of the locked reserve.
// Each holder can redeem once.
func (e *Engine) RedeemVouchers(ctx context.Context, caller common.Address) error {
	return e.run(ctx, "redeemVouchers", caller, e.cfg.HolderRole, func() (events.Event, error) {
		if !e.state.FinalTotalReserveSet {
			return nil, fmt.Errorf("%w: final system reserve must be set first", ErrNotSet)
		}
		if e.state.VouchersRedeemed[caller] {
			return nil, fmt.Errorf("%w: vouchers already redeemed", ErrNothingToRedeem)
		}
		pool := e.collab.ReservePool
		vouchers, err := pool.Vouchers(caller)
		if err != nil {
			return nil, fmt.Errorf("shutdown: read vouchers: %w", err)
		}
		total, err := pool.TotalVouchers()
		if err != nil {
			return nil, fmt.Errorf("shutdown: read total vouchers: %w", err)
		}
		if fixedpoint.Copy(vouchers).IsZero() || fixedpoint.Copy(total).IsZero() {
			return nil, ErrNothingToRedeem
		}
		share, err := fixedpoint.DivRay(vouchers, total)
		if err != nil {
			return nil, err
		}
		amount, err := fixedpoint.MulRay(share, e.state.FinalTotalReserve)
		if err != nil {
			return nil, err
		}
		if err := pool.PayVoucherRedemption(caller, amount); err != nil {
			return nil, fmt.Errorf("shutdown: pay voucher redemption: %w", err)
		}
		e.state.VouchersRedeemed[caller] = true

		evt := e.settlementEvent(events.TypeShutdownVouchersRedeemed, caller)
		evt.User = caller
		evt.Amounts = map[string]*uint256.Int{
			"vouchers":      fixedpoint.Copy(vouchers),
			"totalVouchers": fixedpoint.Copy(total),
			"amount":        amount,
		}
		return evt, nil
	})
}

// CollRedeemed returns the value already redeemed by holder in asset.
func (e *Engine) CollRedeemed(asset types.AssetID, holder common.Address) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.collRedeemed(asset, holder)
}

// StablecoinOf returns the stablecoin holder has returned to the coordinator.
func (e *Engine) StablecoinOf(holder common.Address) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fixedpoint.Copy(e.state.Stablecoin[holder])
}
