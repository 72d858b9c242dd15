package shutdown

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"probity/core/events"
	"probity/core/types"
	"probity/native/fixedpoint"
)

// CalculateInvestorObligation sets the share of equity that must absorb the
// unbacked debt left after reserves, capped at one ray. With no unbacked debt
// left the ratio is zero.
func (e *Engine) CalculateInvestorObligation(ctx context.Context, caller common.Address) error {
	return e.run(ctx, "calculateInvestorObligation", caller, e.cfg.GovRole, func() (events.Event, error) {
		if !e.state.FinalDebtBalanceSet {
			return nil, fmt.Errorf("%w: final debt balance must be set first", ErrNotSet)
		}
		ratio := new(uint256.Int)
		unbacked := fixedpoint.Copy(e.state.UnbackedDebt)
		if !unbacked.IsZero() {
			totals, err := e.collab.VaultEngine.Totals()
			if err != nil {
				return nil, fmt.Errorf("shutdown: read totals: %w", err)
			}
			equity := fixedpoint.Copy(totals.TotalEquity)
			if equity.IsZero() {
				ratio = fixedpoint.One(fixedpoint.UnitRay)
			} else {
				raw, err := fixedpoint.DivRay(unbacked, equity)
				if err != nil {
					return nil, err
				}
				ratio = fixedpoint.ClampRay(raw)
			}
		}
		e.state.InvestorObligationRatio = ratio
		if ratio.IsZero() {
			e.state.UnbackedDebt = new(uint256.Int)
		}

		evt := e.settlementEvent(events.TypeShutdownObligationComputed, caller)
		evt.Amounts = map[string]*uint256.Int{
			"investorObligationRatio": ratio,
			"unbackedDebt":            e.state.UnbackedDebt,
		}
		return evt, nil
	})
}

// ProcessUserEquity seizes the collateral an equity supplier forfeits to
// cover unbacked debt and clears the supplier's equity.
func (e *Engine) ProcessUserEquity(ctx context.Context, caller common.Address, asset types.AssetID, user common.Address) error {
	return e.run(ctx, "processUserEquity", caller, e.cfg.GovRole, func() (events.Event, error) {
		if fixedpoint.Copy(e.state.InvestorObligationRatio).IsZero() {
			return nil, ErrNoObligation
		}
		record, err := e.lockedPrice(asset)
		if err != nil {
			return nil, err
		}
		vault, err := e.collab.VaultEngine.Vault(asset, user)
		if err != nil {
			return nil, fmt.Errorf("shutdown: read vault: %w", err)
		}
		equity := fixedpoint.Copy(vault.Equity)
		amount, err := forfeitedCollateral(equity, e.state.FinalUtilizationRatio, e.state.InvestorObligationRatio, record.FinalPrice)
		if err != nil {
			return nil, err
		}
		// A supplier never loses more than the vault holds.
		seized := fixedpoint.Min(amount, vault.Collateral)

		roles := types.LiquidationRoles{Auctioneer: e.self, ReservePool: e.self}
		if err := e.collab.VaultEngine.Liquidate(e.self, asset, user, roles,
			fixedpoint.Neg(seized), new(big.Int), fixedpoint.Neg(equity)); err != nil {
			return nil, fmt.Errorf("shutdown: liquidate: %w", err)
		}

		evt := e.settlementEvent(events.TypeShutdownEquityProcessed, caller)
		evt.Asset, evt.User = asset, user
		evt.Amounts = map[string]*uint256.Int{
			"equity":    equity,
			"forfeited": amount,
			"seized":    seized,
		}
		return evt, nil
	})
}

// forfeitedCollateral computes equity x utilisation x obligation / price in
// that order, truncating after each step.
func forfeitedCollateral(equity, utilization, obligation, price *uint256.Int) (*uint256.Int, error) {
	used, err := fixedpoint.MulRay(equity, utilization)
	if err != nil {
		return nil, err
	}
	owed, err := fixedpoint.MulRay(used, obligation)
	if err != nil {
		return nil, err
	}
	return fixedpoint.DivRay(owed, price)
}
