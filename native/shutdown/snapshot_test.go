package shutdown

import (
	"bytes"
	"testing"
	"time"

	"probity/native/fixedpoint"
)

func TestSnapshotRoundTrip(t *testing.T) {
	h := redemptionWorld(t, anyHolder)
	h.lockDebtBalance(t)
	if err := h.engine.CalculateRedemptionRatio(ctx, gov, flrAsset); err != nil {
		t.Fatalf("calculate redemption ratio: %v", err)
	}
	if err := h.engine.ReturnStablecoin(ctx, user, fixedpoint.Rad(75)); err != nil {
		t.Fatalf("return stablecoin: %v", err)
	}
	if err := h.engine.RedeemCollateral(ctx, user, flrAsset); err != nil {
		t.Fatalf("redeem collateral: %v", err)
	}

	seq, encoded, err := h.engine.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if seq != 7 {
		t.Fatalf("unexpected sequence: %d", seq)
	}
	decoded, err := DecodeState(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	reencoded, err := EncodeState(decoded)
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(encoded, reencoded) {
		t.Fatalf("snapshot encoding is not stable")
	}

	restored := newHarness(t, anyHolder)
	if err := restored.engine.Restore(decoded, seq); err != nil {
		t.Fatalf("restore: %v", err)
	}
	state := restored.engine.State()
	if !state.Initiated || !state.FinalDebtBalanceSet {
		t.Fatalf("restored state lost its phase: %+v", state)
	}
	if !state.InitiatedAt.Equal(h.engine.State().InitiatedAt) {
		t.Fatalf("initiatedAt mismatch: %s", state.InitiatedAt)
	}
	expectAmount(t, "final debt balance", state.FinalDebtBalance, fixedpoint.Rad(150))
	expectAmount(t, "gap", restored.engine.Asset(flrAsset).Gap, fixedpoint.Wad(50))
	expectAmount(t, "redemption ratio", restored.engine.Asset(flrAsset).RedemptionRatio, twoThirds())
	expectAmount(t, "returned", restored.engine.StablecoinOf(user), fixedpoint.Rad(75))
	expectAmount(t, "collRedeemed", restored.engine.CollRedeemed(flrAsset, user), h.engine.CollRedeemed(flrAsset, user))

	// Restored coordinators keep enforcing write-once locks.
	expectErr(t, restored.engine.SetFinalDebtBalance(ctx, gov), ErrAlreadySet)
	expectErr(t, restored.engine.CalculateRedemptionRatio(ctx, gov, flrAsset), ErrAlreadySet)
}

func TestDecodeStateRejectsGarbage(t *testing.T) {
	if _, err := DecodeState([]byte{0x01, 0x02}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestEncodeFreshState(t *testing.T) {
	encoded, err := EncodeState(newState(DefaultConfig()))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeState(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Initiated || decoded.SupplierWaitPeriod != DefaultWaitPeriod {
		t.Fatalf("unexpected fresh state: %+v", decoded)
	}
}

func TestSnapshotKeepsSubSecondInitiation(t *testing.T) {
	h := newHarness(t)
	h.clock.Add(1500 * time.Millisecond)
	h.initiate(t)

	_, encoded, err := h.engine.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	decoded, err := DecodeState(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := h.engine.State().InitiatedAt
	if !decoded.InitiatedAt.Equal(want) || decoded.InitiatedAt.Nanosecond() != 500_000_000 {
		t.Fatalf("initiatedAt %s, want %s", decoded.InitiatedAt, want)
	}

	restored := newHarness(t)
	if err := restored.engine.Restore(decoded, 1); err != nil {
		t.Fatalf("restore: %v", err)
	}
	restored.clock.Add(1500*time.Millisecond + DefaultWaitPeriod - time.Nanosecond)
	expectErr(t, restored.engine.SetFinalDebtBalance(ctx, gov), ErrWaitPeriodNotElapsed)
	restored.clock.Add(time.Nanosecond)
	if err := restored.engine.SetFinalDebtBalance(ctx, gov); err != nil {
		t.Fatalf("set final debt balance at the deadline: %v", err)
	}
}
