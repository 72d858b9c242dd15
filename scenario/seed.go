package scenario

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"probity/core/types"
	"probity/native/fixedpoint"
)

// Seed applies the file's prices, vaults, reserve transfers, system debt and
// vouchers to a world that has not been shut down yet.
func Seed(w *World, f *File) error {
	for raw, value := range f.Prices {
		asset, err := types.ParseAssetID(raw)
		if err != nil {
			return err
		}
		price, err := fixedpoint.Parse(value, fixedpoint.UnitRay)
		if err != nil {
			return fmt.Errorf("scenario: price %s: %w", raw, err)
		}
		if err := w.Feed.UpdatePrice(asset, price); err != nil {
			return err
		}
	}
	for i, seed := range f.Vaults {
		if err := seedVault(w, f, seed); err != nil {
			return fmt.Errorf("scenario: vault %d: %w", i, err)
		}
	}
	for i, transfer := range f.Reserve {
		from, err := f.Resolve(transfer.From)
		if err != nil {
			return err
		}
		amount, err := fixedpoint.Parse(transfer.Amount, fixedpoint.UnitRad)
		if err != nil {
			return fmt.Errorf("scenario: reserve %d: %w", i, err)
		}
		if err := w.Ledger.MoveStablecoin(from, from, w.Pool.Address(), amount); err != nil {
			return fmt.Errorf("scenario: reserve %d: %w", i, err)
		}
	}
	for i, debt := range f.SystemDebt {
		holder := w.Pool.Address()
		if debt.Holder != "" {
			addr, err := f.Resolve(debt.Holder)
			if err != nil {
				return err
			}
			holder = addr
		}
		beneficiary, err := f.Resolve(debt.Beneficiary)
		if err != nil {
			return err
		}
		amount, err := fixedpoint.Parse(debt.Amount, fixedpoint.UnitRad)
		if err != nil {
			return fmt.Errorf("scenario: system debt %d: %w", i, err)
		}
		if err := w.Ledger.CreditUnbackedDebt(holder, beneficiary, amount); err != nil {
			return fmt.Errorf("scenario: system debt %d: %w", i, err)
		}
	}
	for name, value := range f.Vouchers {
		holder, err := f.Resolve(name)
		if err != nil {
			return err
		}
		amount, err := fixedpoint.Parse(value, fixedpoint.UnitWad)
		if err != nil {
			return fmt.Errorf("scenario: vouchers %s: %w", name, err)
		}
		if err := w.Pool.IssueVouchers(holder, amount); err != nil {
			return err
		}
	}
	return nil
}

func seedVault(w *World, f *File, seed VaultSeed) error {
	owner, err := f.Resolve(seed.Owner)
	if err != nil {
		return err
	}
	asset, err := types.ParseAssetID(seed.Asset)
	if err != nil {
		return err
	}
	coll, err := parseOptional(seed.Collateral, fixedpoint.UnitWad)
	if err != nil {
		return err
	}
	debt, err := parseOptional(seed.Debt, fixedpoint.UnitWad)
	if err != nil {
		return err
	}
	equity, err := parseOptional(seed.Equity, fixedpoint.UnitWad)
	if err != nil {
		return err
	}
	if err := w.Ledger.Deposit(asset, owner, coll); err != nil {
		return err
	}
	lockForDebt := coll.ToBig()
	if !equity.IsZero() {
		if err := w.Ledger.ModifyEquity(asset, owner, coll.ToBig(), equity.ToBig()); err != nil {
			return err
		}
		lockForDebt = new(big.Int)
	}
	return w.Ledger.ModifyDebt(asset, owner, lockForDebt, debt.ToBig())
}

func parseOptional(value string, unit fixedpoint.Unit) (*uint256.Int, error) {
	if strings.TrimSpace(value) == "" {
		return new(uint256.Int), nil
	}
	return fixedpoint.Parse(value, unit)
}
