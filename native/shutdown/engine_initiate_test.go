package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"probity/core/events"
	nativecommon "probity/native/common"
	"probity/native/fixedpoint"
	"probity/native/pricefeed"
)

func TestInitiateShutdownFreezesCollaborators(t *testing.T) {
	h := newHarness(t)
	h.initiate(t)

	state := h.engine.State()
	if !state.Initiated {
		t.Fatalf("expected initiated state")
	}
	if !state.InitiatedAt.Equal(h.clock.Now()) {
		t.Fatalf("unexpected initiatedAt: %s", state.InitiatedAt)
	}
	flags := map[string]nativecommon.ShutdownView{
		TargetVaultEngine: h.ledger,
		TargetPriceFeed:   h.feed,
		TargetReservePool: h.pool,
		TargetTeller:      h.teller,
		TargetTreasury:    h.treasury,
		TargetLiquidator:  h.liquidator,
	}
	for name, view := range flags {
		if !view.ShutdownFlag() {
			t.Fatalf("%s was not shut down", name)
		}
	}

	expectErr(t, h.engine.InitiateShutdown(ctx, gov), ErrAlreadyInitiated)
	if h.engine.Phase() != "initiated" {
		t.Fatalf("unexpected phase: %s", h.engine.Phase())
	}
}

func TestInitiateShutdownRequiresGov(t *testing.T) {
	h := newHarness(t)
	expectErr(t, h.engine.InitiateShutdown(ctx, stranger), ErrPermissionDenied)
	if h.engine.State().Initiated {
		t.Fatalf("rejected call must not change state")
	}
	if h.teller.ShutdownFlag() {
		t.Fatalf("rejected call must not freeze collaborators")
	}
}

func TestUtilizationRatio(t *testing.T) {
	cases := []struct {
		name   string
		debt   uint64
		equity uint64
		want   *uint256.Int
	}{
		{name: "debt below equity", debt: 342, equity: 1000, want: fixedpoint.MustParse("0.342", fixedpoint.UnitRay)},
		{name: "no equity", debt: 342, equity: 0, want: new(uint256.Int)},
		{name: "debt above equity", debt: 1500, equity: 1000, want: fixedpoint.Ray(1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.openDebt(t, user, new(uint256.Int), fixedpoint.Wad(tc.debt))
			if tc.equity > 0 {
				h.openEquity(t, owner, new(uint256.Int), fixedpoint.Wad(tc.equity))
			}
			h.initiate(t)
			expectAmount(t, "utilization ratio", h.engine.State().FinalUtilizationRatio, tc.want)
		})
	}
}

func TestSwitchAddress(t *testing.T) {
	h := newHarness(t)
	replacementFeed := pricefeed.New()
	replacementSwitch := nativecommon.NewSwitch("teller-v2")

	targets := map[string]any{
		TargetPriceFeed:   replacementFeed,
		TargetVaultEngine: h.ledger,
		TargetReservePool: h.pool,
		TargetTeller:      replacementSwitch,
		TargetTreasury:    replacementSwitch,
		TargetLiquidator:  replacementSwitch,
	}
	for which, collaborator := range targets {
		if err := h.engine.SwitchAddress(ctx, gov, which, collaborator); err != nil {
			t.Fatalf("switch %s: %v", which, err)
		}
	}
	if h.engine.Collaborators().PriceFeed != replacementFeed {
		t.Fatalf("price feed was not rebound")
	}

	expectErr(t, h.engine.SwitchAddress(ctx, gov, "Oracle", replacementFeed), ErrInvalidTarget)
	expectErr(t, h.engine.SwitchAddress(ctx, gov, TargetVaultEngine, replacementSwitch), ErrInvalidTarget)
	expectErr(t, h.engine.SwitchAddress(ctx, gov, TargetPriceFeed, nil), ErrInvalidTarget)
	expectErr(t, h.engine.SwitchAddress(ctx, stranger, TargetPriceFeed, replacementFeed), ErrPermissionDenied)

	h.initiate(t)
	if !replacementSwitch.ShutdownFlag() {
		t.Fatalf("rebound collaborator must be frozen on initiation")
	}
	expectErr(t, h.engine.SwitchAddress(ctx, gov, TargetPriceFeed, pricefeed.New()), ErrAlreadyInitiated)
}

func TestChangeWaitPeriod(t *testing.T) {
	h := newHarness(t)
	auction, supplier := h.engine.WaitPeriods()
	if auction != 172800*time.Second || supplier != 172800*time.Second {
		t.Fatalf("unexpected default wait periods: %s %s", auction, supplier)
	}
	if err := h.engine.ChangeWaitPeriod(ctx, gov, WaitPeriodAuction, 3600); err != nil {
		t.Fatalf("change auction wait: %v", err)
	}
	if err := h.engine.ChangeWaitPeriod(ctx, gov, WaitPeriodSupplier, 7200); err != nil {
		t.Fatalf("change supplier wait: %v", err)
	}
	auction, supplier = h.engine.WaitPeriods()
	if auction != time.Hour || supplier != 2*time.Hour {
		t.Fatalf("unexpected wait periods: %s %s", auction, supplier)
	}
	expectErr(t, h.engine.ChangeWaitPeriod(ctx, gov, "unknown", 1), ErrInvalidTarget)
	expectErr(t, h.engine.ChangeWaitPeriod(ctx, stranger, WaitPeriodAuction, 1), ErrPermissionDenied)
	expectErr(t, h.engine.ChangeWaitPeriod(ctx, gov, WaitPeriodAuction, ^uint64(0)), ErrArithmeticOverflow)

	h.initiate(t)
	if got := h.engine.AuctionDeadline(); !got.Equal(h.clock.Now().Add(time.Hour)) {
		t.Fatalf("unexpected auction deadline: %s", got)
	}
}

func TestSetFinalPrice(t *testing.T) {
	h := newHarness(t)
	h.setPrice(t, new(uint256.Int))
	expectErr(t, h.engine.SetFinalPrice(ctx, gov, flrAsset), ErrNotYetInitiated)

	h.initiate(t)
	expectErr(t, h.engine.SetFinalPrice(ctx, gov, flrAsset), ErrZeroPrice)
	if h.engine.Asset(flrAsset).priceSet() {
		t.Fatalf("zero price must not be recorded")
	}
}

func TestSetFinalPriceIsWriteOnce(t *testing.T) {
	h := newHarness(t)
	price := fixedpoint.MustParse("1.23", fixedpoint.UnitRay)
	h.setPrice(t, price)
	h.initiate(t)
	h.lockPrice(t)
	expectAmount(t, "final price", h.engine.Asset(flrAsset).FinalPrice, price)
	expectErr(t, h.engine.SetFinalPrice(ctx, gov, flrAsset), ErrAlreadySet)
}

func TestCancelledContextLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.engine.InitiateShutdown(cancelled, gov)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if h.engine.State().Initiated {
		t.Fatalf("cancelled call must not initiate")
	}
}

func TestOperationsEmitEventsAndObserve(t *testing.T) {
	h := newHarness(t)
	h.setPrice(t, fixedpoint.Ray(1))
	h.initiate(t)
	h.lockPrice(t)
	expectErr(t, h.engine.SetFinalPrice(ctx, gov, flrAsset), ErrAlreadySet)

	recorded := h.events.Events()
	if len(recorded) != 2 {
		t.Fatalf("expected 2 events, got %d", len(recorded))
	}
	if recorded[0].EventType() != events.TypeShutdownInitiated || recorded[1].EventType() != events.TypeShutdownFinalPriceLocked {
		t.Fatalf("unexpected event order: %s, %s", recorded[0].EventType(), recorded[1].EventType())
	}
	settled, ok := recorded[1].(events.Settlement)
	if !ok {
		t.Fatalf("unexpected event type %T", recorded[1])
	}
	attrs := settled.Event().Attributes
	if attrs["asset"] != "FLR" || attrs["finalPrice"] != fixedpoint.Ray(1).Dec() {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
	if h.observer.total != 3 || h.observer.failures != 1 {
		t.Fatalf("unexpected observations: total=%d failures=%d", h.observer.total, h.observer.failures)
	}
}

func TestInitiateShutdownUnwindsWhenAFreezeFails(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("treasury unreachable")
	treasury := &stuckSwitch{Switch: nativecommon.NewSwitch("treasury"), err: boom}
	if err := h.engine.SwitchAddress(ctx, gov, TargetTreasury, treasury); err != nil {
		t.Fatalf("switch treasury: %v", err)
	}

	expectErr(t, h.engine.InitiateShutdown(ctx, gov), boom)
	flags := map[string]nativecommon.ShutdownView{
		TargetVaultEngine: h.ledger,
		TargetPriceFeed:   h.feed,
		TargetTeller:      h.teller,
		TargetTreasury:    treasury,
		TargetReservePool: h.pool,
		TargetLiquidator:  h.liquidator,
	}
	for name, view := range flags {
		if view.ShutdownFlag() {
			t.Fatalf("%s left frozen after a failed initiation", name)
		}
	}
	if h.engine.State().Initiated || h.engine.Sequence() != 1 {
		t.Fatalf("failed initiation changed coordinator state")
	}
}

func TestInitiateShutdownUnwindsWhenAuthorisationFails(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("ledger rejected coordinator")
	h.ledger.failAuthorize = boom

	expectErr(t, h.engine.InitiateShutdown(ctx, gov), boom)
	for name, view := range map[string]nativecommon.ShutdownView{
		TargetVaultEngine: h.ledger,
		TargetPriceFeed:   h.feed,
		TargetTeller:      h.teller,
		TargetTreasury:    h.treasury,
		TargetReservePool: h.pool,
		TargetLiquidator:  h.liquidator,
	} {
		if view.ShutdownFlag() {
			t.Fatalf("%s left frozen after a failed initiation", name)
		}
	}

	h.ledger.failAuthorize = nil
	h.initiate(t)
}

func TestViewIsConsistent(t *testing.T) {
	h := newHarness(t)
	h.initiate(t)
	view := h.engine.View()
	if view.Phase != "initiated" || view.Sequence != 1 || !view.State.Initiated {
		t.Fatalf("unexpected view: %+v", view)
	}
	if !view.AuctionDeadline.Equal(view.State.InitiatedAt.Add(DefaultWaitPeriod)) {
		t.Fatalf("unexpected auction deadline: %s", view.AuctionDeadline)
	}
}
