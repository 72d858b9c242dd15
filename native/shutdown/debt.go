package shutdown

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"probity/core/events"
	"probity/core/types"
	"probity/native/fixedpoint"
)

func (e *Engine) lockedPrice(asset types.AssetID) (*AssetRecord, error) {
	record := e.state.asset(asset)
	if !record.priceSet() {
		return nil, fmt.Errorf("%w: %s", ErrFinalPriceNotSet, asset)
	}
	return record.Clone(), nil
}

// ProcessUserDebt settles a debtor's vault at the locked price. Collateral
// covering the debt is seized by the coordinator; any shortfall is added to
// the asset gap and to the system's unbacked debt.
func (e *Engine) ProcessUserDebt(ctx context.Context, caller common.Address, asset types.AssetID, user common.Address) error {
	return e.run(ctx, "processUserDebt", caller, e.cfg.GovRole, func() (events.Event, error) {
		record, err := e.lockedPrice(asset)
		if err != nil {
			return nil, err
		}
		vault, err := e.collab.VaultEngine.Vault(asset, user)
		if err != nil {
			return nil, fmt.Errorf("shutdown: read vault: %w", err)
		}
		collateral := fixedpoint.Copy(vault.Collateral)
		debt := fixedpoint.Copy(vault.Debt)

		required, err := fixedpoint.DivRay(debt, record.FinalPrice)
		if err != nil {
			return nil, err
		}
		gap := new(uint256.Int)
		if required.Gt(collateral) {
			gap.Sub(required, collateral)
		}
		gapValue, err := fixedpoint.Mul(gap, record.FinalPrice)
		if err != nil {
			return nil, err
		}
		assetGap, err := fixedpoint.Add(record.Gap, gap)
		if err != nil {
			return nil, err
		}
		unbacked, err := fixedpoint.Add(e.state.UnbackedDebt, gapValue)
		if err != nil {
			return nil, err
		}
		seized := fixedpoint.Min(required, collateral)

		roles := types.LiquidationRoles{Auctioneer: e.self, ReservePool: e.self}
		if err := e.collab.VaultEngine.Liquidate(e.self, asset, user, roles,
			fixedpoint.Neg(seized), fixedpoint.Neg(debt), new(big.Int)); err != nil {
			return nil, fmt.Errorf("shutdown: liquidate: %w", err)
		}

		record.Gap = assetGap
		e.state.Assets[asset] = record
		e.state.UnbackedDebt = unbacked

		evt := e.settlementEvent(events.TypeShutdownDebtProcessed, caller)
		evt.Asset, evt.User = asset, user
		evt.Amounts = map[string]*uint256.Int{
			"debt":     debt,
			"seized":   seized,
			"gap":      gap,
			"gapValue": gapValue,
		}
		return evt, nil
	})
}

// FreeExcessCollateral returns the remaining collateral of a vault whose debt
// has already been settled.
func (e *Engine) FreeExcessCollateral(ctx context.Context, caller common.Address, asset types.AssetID, user common.Address) error {
	return e.run(ctx, "freeExcessCollateral", caller, e.cfg.GovRole, func() (events.Event, error) {
		if _, err := e.lockedPrice(asset); err != nil {
			return nil, err
		}
		vault, err := e.collab.VaultEngine.Vault(asset, user)
		if err != nil {
			return nil, fmt.Errorf("shutdown: read vault: %w", err)
		}
		if !fixedpoint.Copy(vault.Debt).IsZero() {
			return nil, ErrDebtNotProcessed
		}
		collateral := fixedpoint.Copy(vault.Collateral)
		if collateral.IsZero() {
			return nil, ErrNothingToFree
		}
		roles := types.LiquidationRoles{Auctioneer: user, ReservePool: e.self}
		if err := e.collab.VaultEngine.Liquidate(e.self, asset, user, roles,
			fixedpoint.Neg(collateral), new(big.Int), new(big.Int)); err != nil {
			return nil, fmt.Errorf("shutdown: liquidate: %w", err)
		}

		evt := e.settlementEvent(events.TypeShutdownExcessFreed, caller)
		evt.Asset, evt.User = asset, user
		evt.Amounts = map[string]*uint256.Int{"collateral": collateral}
		return evt, nil
	})
}

// WriteOffFromReserves spends the reserve pool's surplus. The pool's own
// system debt is healed first; whatever remains offsets the coordinator's
// unbacked debt.
func (e *Engine) WriteOffFromReserves(ctx context.Context, caller common.Address) error {
	return e.run(ctx, "writeOffFromReserves", caller, e.cfg.GovRole, func() (events.Event, error) {
		if !e.state.Initiated {
			return nil, ErrNotYetInitiated
		}
		pool := e.collab.ReservePool
		reserve, err := pool.Balance()
		if err != nil {
			return nil, fmt.Errorf("shutdown: read reserve: %w", err)
		}
		poolDebt, err := pool.UnbackedDebt()
		if err != nil {
			return nil, fmt.Errorf("shutdown: read reserve debt: %w", err)
		}
		healed := fixedpoint.Min(poolDebt, reserve)
		remaining, err := fixedpoint.Sub(reserve, healed)
		if err != nil {
			return nil, err
		}
		offset := fixedpoint.Min(e.state.UnbackedDebt, remaining)
		unbacked, err := fixedpoint.Sub(e.state.UnbackedDebt, offset)
		if err != nil {
			return nil, err
		}

		if !healed.IsZero() {
			if err := pool.SettleSystemDebt(healed); err != nil {
				return nil, fmt.Errorf("shutdown: settle reserve debt: %w", err)
			}
		}
		if !offset.IsZero() {
			if err := pool.WriteOff(e.self, offset); err != nil {
				err = fmt.Errorf("shutdown: write off: %w", err)
				if !healed.IsZero() {
					if rerr := pool.ReinstateSystemDebt(healed); rerr != nil {
						err = errors.Join(err, fmt.Errorf("shutdown: reinstate reserve debt: %w", rerr))
					}
				}
				return nil, err
			}
		}
		e.state.UnbackedDebt = unbacked

		evt := e.settlementEvent(events.TypeShutdownReservesWrittenOff, caller)
		evt.Amounts = map[string]*uint256.Int{
			"healed":       healed,
			"writtenOff":   offset,
			"unbackedDebt": unbacked,
		}
		return evt, nil
	})
}

// SetFinalDebtBalance locks the system debt once the supplier wait period has
// elapsed and the reserve pool no longer carries both surplus and debt.
func (e *Engine) SetFinalDebtBalance(ctx context.Context, caller common.Address) error {
	return e.run(ctx, "setFinalDebtBalance", caller, e.cfg.GovRole, func() (events.Event, error) {
		if !e.state.Initiated {
			return nil, ErrNotYetInitiated
		}
		if e.state.FinalDebtBalanceSet {
			return nil, fmt.Errorf("%w: final debt balance", ErrAlreadySet)
		}
		if e.clock.Now().Sub(e.state.InitiatedAt) < e.state.SupplierWaitPeriod {
			return nil, ErrWaitPeriodNotElapsed
		}
		reserve, err := e.collab.ReservePool.Balance()
		if err != nil {
			return nil, fmt.Errorf("shutdown: read reserve: %w", err)
		}
		poolDebt, err := e.collab.ReservePool.UnbackedDebt()
		if err != nil {
			return nil, fmt.Errorf("shutdown: read reserve debt: %w", err)
		}
		if !fixedpoint.Copy(reserve).IsZero() && !fixedpoint.Copy(poolDebt).IsZero() {
			return nil, ErrReservesNotReconciled
		}
		totals, err := e.collab.VaultEngine.Totals()
		if err != nil {
			return nil, fmt.Errorf("shutdown: read totals: %w", err)
		}
		e.state.FinalDebtBalance = fixedpoint.Copy(totals.TotalDebt)
		e.state.FinalDebtBalanceSet = true

		evt := e.settlementEvent(events.TypeShutdownDebtBalanceLocked, caller)
		evt.Amounts = map[string]*uint256.Int{"finalDebtBalance": totals.TotalDebt}
		return evt, nil
	})
}
