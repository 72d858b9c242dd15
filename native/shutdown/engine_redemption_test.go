package shutdown

import (
	"testing"

	"github.com/holiman/uint256"

	"probity/core/types"
	"probity/native/fixedpoint"
)

// redemptionWorld settles a debtor holding 150 of stablecoin against 100 of
// collateral at a price of one, leaving a gap of 50.
func redemptionWorld(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := newHarness(t, mutate...)
	h.openDebt(t, user, fixedpoint.Wad(100), fixedpoint.Wad(150))
	h.setPrice(t, fixedpoint.Ray(1))
	h.initiate(t)
	h.lockPrice(t)
	if err := h.engine.ProcessUserDebt(ctx, gov, flrAsset, user); err != nil {
		t.Fatalf("process user debt: %v", err)
	}
	return h
}

func twoThirds() *uint256.Int {
	return new(uint256.Int).Div(fixedpoint.Ray(2), uint256.NewInt(3))
}

func TestCalculateRedemptionRatio(t *testing.T) {
	h := redemptionWorld(t)
	expectErr(t, h.engine.CalculateRedemptionRatio(ctx, gov, flrAsset), ErrNotSet)
	h.lockDebtBalance(t)
	expectAmount(t, "final debt balance", h.engine.State().FinalDebtBalance, fixedpoint.Rad(150))

	expectErr(t, h.engine.CalculateRedemptionRatio(ctx, gov, types.MustAssetID("USD")), ErrFinalPriceNotSet)
	if err := h.engine.CalculateRedemptionRatio(ctx, gov, flrAsset); err != nil {
		t.Fatalf("calculate redemption ratio: %v", err)
	}
	record := h.engine.Asset(flrAsset)
	if !record.RedemptionRatioSet {
		t.Fatalf("redemption ratio not marked as set")
	}
	expectAmount(t, "redemption ratio", record.RedemptionRatio, twoThirds())
	expectErr(t, h.engine.CalculateRedemptionRatio(ctx, gov, flrAsset), ErrAlreadySet)
}

func TestRedemptionRatioBounds(t *testing.T) {
	cases := []struct {
		name     string
		debt     *uint256.Int
		gapValue *uint256.Int
		want     *uint256.Int
	}{
		{name: "no debt", debt: new(uint256.Int), gapValue: fixedpoint.Rad(5), want: fixedpoint.Ray(1)},
		{name: "no gap", debt: fixedpoint.Rad(100), gapValue: new(uint256.Int), want: fixedpoint.Ray(1)},
		{name: "gap exceeds debt", debt: fixedpoint.Rad(100), gapValue: fixedpoint.Rad(150), want: new(uint256.Int)},
		{name: "half", debt: fixedpoint.Rad(100), gapValue: fixedpoint.Rad(50), want: fixedpoint.MustParse("0.5", fixedpoint.UnitRay)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := redemptionRatio(tc.debt, tc.gapValue)
			if err != nil {
				t.Fatalf("redemption ratio: %v", err)
			}
			expectAmount(t, "redemption ratio", got, tc.want)
		})
	}
}

func TestHolderOperationsRequireHolderRole(t *testing.T) {
	h := redemptionWorld(t)
	expectErr(t, h.engine.ReturnStablecoin(ctx, user, fixedpoint.Rad(1)), ErrPermissionDenied)
	expectErr(t, h.engine.RedeemCollateral(ctx, user, flrAsset), ErrPermissionDenied)
	expectErr(t, h.engine.RedeemVouchers(ctx, user), ErrPermissionDenied)
}

func TestReturnStablecoin(t *testing.T) {
	h := newHarness(t, anyHolder)
	h.openDebt(t, user, fixedpoint.Wad(100), fixedpoint.Wad(150))
	expectErr(t, h.engine.ReturnStablecoin(ctx, user, fixedpoint.Rad(10)), ErrNotYetInitiated)

	h.initiate(t)
	expectErr(t, h.engine.ReturnStablecoin(ctx, user, new(uint256.Int)), ErrNothingToRedeem)
	expectErr(t, h.engine.ReturnStablecoin(ctx, user, fixedpoint.Rad(151)), errInsufficientBalance(t, h))

	if err := h.engine.ReturnStablecoin(ctx, user, fixedpoint.Rad(100)); err != nil {
		t.Fatalf("return stablecoin: %v", err)
	}
	if err := h.engine.ReturnStablecoin(ctx, user, fixedpoint.Rad(50)); err != nil {
		t.Fatalf("return stablecoin: %v", err)
	}
	expectAmount(t, "returned", h.engine.StablecoinOf(user), fixedpoint.Rad(150))
	expectAmount(t, "holder balance", h.ledger.Stablecoin(user), new(uint256.Int))
	expectAmount(t, "coordinator balance", h.ledger.Stablecoin(self), fixedpoint.Rad(150))
}

// errInsufficientBalance captures the ledger's own error for an overdraft so
// the test does not depend on its wording.
func errInsufficientBalance(t *testing.T, h *harness) error {
	t.Helper()
	err := h.ledger.MoveStablecoin(stranger, stranger, self, fixedpoint.Rad(1))
	if err == nil {
		t.Fatalf("expected overdraft to fail")
	}
	return err
}

func TestRedeemCollateral(t *testing.T) {
	h := redemptionWorld(t, anyHolder)
	h.lockDebtBalance(t)
	if err := h.engine.ReturnStablecoin(ctx, user, fixedpoint.Rad(150)); err != nil {
		t.Fatalf("return stablecoin: %v", err)
	}
	expectErr(t, h.engine.RedeemCollateral(ctx, user, flrAsset), ErrNotSet)
	if err := h.engine.CalculateRedemptionRatio(ctx, gov, flrAsset); err != nil {
		t.Fatalf("calculate redemption ratio: %v", err)
	}

	if err := h.engine.RedeemCollateral(ctx, user, flrAsset); err != nil {
		t.Fatalf("redeem collateral: %v", err)
	}
	total, err := fixedpoint.MulRay(fixedpoint.Rad(150), twoThirds())
	if err != nil {
		t.Fatalf("expected total: %v", err)
	}
	expectAmount(t, "collRedeemed", h.engine.CollRedeemed(flrAsset, user), total)
	released := new(uint256.Int).Div(total, fixedpoint.Ray(1))
	expectAmount(t, "released collateral", h.ledger.Standby(flrAsset, user), released)

	expectErr(t, h.engine.RedeemCollateral(ctx, user, flrAsset), ErrNothingToRedeem)
	expectErr(t, h.engine.RedeemCollateral(ctx, stranger, flrAsset), ErrNothingToRedeem)
}

func TestIncrementalRedemptionMatchesSingleRedemption(t *testing.T) {
	single := redemptionWorld(t, anyHolder)
	single.lockDebtBalance(t)
	if err := single.engine.CalculateRedemptionRatio(ctx, gov, flrAsset); err != nil {
		t.Fatalf("calculate redemption ratio: %v", err)
	}
	if err := single.engine.ReturnStablecoin(ctx, user, fixedpoint.Rad(150)); err != nil {
		t.Fatalf("return stablecoin: %v", err)
	}
	if err := single.engine.RedeemCollateral(ctx, user, flrAsset); err != nil {
		t.Fatalf("redeem collateral: %v", err)
	}

	split := redemptionWorld(t, anyHolder)
	split.lockDebtBalance(t)
	if err := split.engine.CalculateRedemptionRatio(ctx, gov, flrAsset); err != nil {
		t.Fatalf("calculate redemption ratio: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := split.engine.ReturnStablecoin(ctx, user, fixedpoint.Rad(75)); err != nil {
			t.Fatalf("return stablecoin %d: %v", i, err)
		}
		if err := split.engine.RedeemCollateral(ctx, user, flrAsset); err != nil {
			t.Fatalf("redeem collateral %d: %v", i, err)
		}
	}

	expectAmount(t, "released collateral",
		split.ledger.Standby(flrAsset, user), single.ledger.Standby(flrAsset, user))
	expectAmount(t, "collRedeemed",
		split.engine.CollRedeemed(flrAsset, user), single.engine.CollRedeemed(flrAsset, user))
}

// voucherWorld funds the reserve with 100 and issues 28 vouchers to user out
// of 382 in total.
func voucherWorld(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, anyHolder)
	h.openDebt(t, owner, fixedpoint.Wad(200), fixedpoint.Wad(100))
	h.fundReserve(t, owner, fixedpoint.Rad(100))
	if err := h.pool.IssueVouchers(user, fixedpoint.Wad(28)); err != nil {
		t.Fatalf("issue vouchers: %v", err)
	}
	if err := h.pool.IssueVouchers(owner, fixedpoint.Wad(354)); err != nil {
		t.Fatalf("issue vouchers: %v", err)
	}
	h.initiate(t)
	return h
}

func TestRedeemVouchers(t *testing.T) {
	h := voucherWorld(t)
	expectErr(t, h.engine.SetFinalSystemReserve(ctx, gov), ErrNotSet)
	expectErr(t, h.engine.RedeemVouchers(ctx, user), ErrNotSet)

	h.lockDebtBalance(t)
	if err := h.engine.SetFinalSystemReserve(ctx, gov); err != nil {
		t.Fatalf("set final system reserve: %v", err)
	}
	expectAmount(t, "final total reserve", h.engine.State().FinalTotalReserve, fixedpoint.Rad(100))
	expectErr(t, h.engine.SetFinalSystemReserve(ctx, gov), ErrAlreadySet)
	if h.engine.Phase() != "reserve_locked" {
		t.Fatalf("unexpected phase: %s", h.engine.Phase())
	}

	if err := h.engine.RedeemVouchers(ctx, user); err != nil {
		t.Fatalf("redeem vouchers: %v", err)
	}
	share, err := fixedpoint.DivRay(fixedpoint.Wad(28), fixedpoint.Wad(382))
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	want, err := fixedpoint.MulRay(share, fixedpoint.Rad(100))
	if err != nil {
		t.Fatalf("payout: %v", err)
	}
	expectAmount(t, "voucher payout", h.ledger.Stablecoin(user), want)
	expectAmount(t, "total vouchers", mustTotalVouchers(t, h), fixedpoint.Wad(382))

	expectErr(t, h.engine.RedeemVouchers(ctx, user), ErrNothingToRedeem)
	expectErr(t, h.engine.RedeemVouchers(ctx, stranger), ErrNothingToRedeem)

	if err := h.engine.RedeemVouchers(ctx, owner); err != nil {
		t.Fatalf("redeem owner vouchers: %v", err)
	}
	share, _ = fixedpoint.DivRay(fixedpoint.Wad(354), fixedpoint.Wad(382))
	ownerWant, _ := fixedpoint.MulRay(share, fixedpoint.Rad(100))
	expectAmount(t, "owner payout", h.ledger.Stablecoin(owner), ownerWant)
}

func mustTotalVouchers(t *testing.T, h *harness) *uint256.Int {
	t.Helper()
	total, err := h.pool.TotalVouchers()
	if err != nil {
		t.Fatalf("total vouchers: %v", err)
	}
	return total
}

func TestSetFinalSystemReserveBeforeInitiation(t *testing.T) {
	h := newHarness(t)
	expectErr(t, h.engine.SetFinalSystemReserve(ctx, gov), ErrNotYetInitiated)
}
