package scenario

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"

	"probity/core/types"
	"probity/native/fixedpoint"
	"probity/native/reservepool"
	"probity/native/shutdown"
	"probity/native/vaultengine"
)

var (
	worldGov  = common.HexToAddress("0xaa")
	worldUser = common.HexToAddress("0xa1")
	worldPool = common.HexToAddress("0x7e5e")
)

func newTestWorld(t *testing.T, clk clock.Clock) *World {
	t.Helper()
	w, err := NewWorld(Options{
		Self:        common.HexToAddress("0x5d0e"),
		ReservePool: worldPool,
		Config:      shutdown.DefaultConfig(),
		Governors:   []common.Address{worldGov},
		Assets:      []types.AssetID{flr},
		Clock:       clk,
	})
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return w
}

func TestReplacementBuildsFreshCollaborators(t *testing.T) {
	w := newTestWorld(t, nil)
	ctx := context.Background()

	ledger, ok := w.Replacement(shutdown.TargetVaultEngine).(*vaultengine.Engine)
	if !ok || ledger == w.Ledger {
		t.Fatalf("expected a fresh vault engine, got %T", ledger)
	}
	if err := ledger.Deposit(flr, worldUser, fixedpoint.Wad(10)); err != nil {
		t.Fatalf("replacement ledger missing asset: %v", err)
	}
	if !w.Ledger.Standby(flr, worldUser).IsZero() {
		t.Fatalf("deposit leaked into the original ledger")
	}
	if err := w.Engine.SwitchAddress(ctx, worldGov, shutdown.TargetVaultEngine, ledger); err != nil {
		t.Fatalf("switch ledger: %v", err)
	}

	pool, ok := w.Replacement(shutdown.TargetReservePool).(*reservepool.Pool)
	if !ok || pool == w.Pool {
		t.Fatalf("expected a fresh reserve pool, got %T", pool)
	}
	if pool.Address() != worldPool {
		t.Fatalf("pool address %s", pool.Address().Hex())
	}
	if err := ledger.ModifyDebt(flr, worldUser, fixedpoint.Wad(10).ToBig(), fixedpoint.Wad(5).ToBig()); err != nil {
		t.Fatalf("draw: %v", err)
	}
	if err := ledger.MoveStablecoin(worldUser, worldUser, worldPool, fixedpoint.Rad(5)); err != nil {
		t.Fatalf("fund pool: %v", err)
	}
	balance, err := pool.Balance()
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Eq(fixedpoint.Rad(5)) {
		t.Fatalf("replacement pool should read the switched ledger, got %s", fixedpoint.Format(balance, fixedpoint.UnitRad))
	}
	if w.Replacement("oracle") != nil {
		t.Fatalf("unknown target should yield nil")
	}
}

func TestWorldSnapshotRestoresCollaborators(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(1_700_000_000*time.Second + 250*time.Millisecond)
	w := newTestWorld(t, mock)
	ctx := context.Background()

	if err := w.Feed.UpdatePrice(flr, fixedpoint.Ray(1)); err != nil {
		t.Fatalf("price: %v", err)
	}
	if err := w.Ledger.Deposit(flr, worldUser, fixedpoint.Wad(100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := w.Ledger.ModifyDebt(flr, worldUser, fixedpoint.Wad(100).ToBig(), fixedpoint.Wad(150).ToBig()); err != nil {
		t.Fatalf("draw: %v", err)
	}
	if err := w.Pool.IssueVouchers(worldUser, fixedpoint.Wad(7)); err != nil {
		t.Fatalf("vouchers: %v", err)
	}
	if err := w.Engine.InitiateShutdown(ctx, worldGov); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := w.Engine.SetFinalPrice(ctx, worldGov, flr); err != nil {
		t.Fatalf("final price: %v", err)
	}
	if err := w.Engine.ProcessUserDebt(ctx, worldGov, flr, worldUser); err != nil {
		t.Fatalf("process debt: %v", err)
	}

	payload, err := w.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	fresh := newTestWorld(t, nil)
	if err := fresh.Restore(payload); err != nil {
		t.Fatalf("restore: %v", err)
	}

	want, err := w.Ledger.Snapshot()
	if err != nil {
		t.Fatalf("ledger snapshot: %v", err)
	}
	got, err := fresh.Ledger.Snapshot()
	if err != nil {
		t.Fatalf("restored ledger snapshot: %v", err)
	}
	if !bytes.Equal(want, got) {
		t.Fatalf("ledger state differs after restore")
	}
	if !fresh.Ledger.UnbackedDebt(w.Engine.Address()).Eq(fixedpoint.Rad(50)) {
		t.Fatalf("unbacked debt %s", fixedpoint.Format(fresh.Ledger.UnbackedDebt(w.Engine.Address()), fixedpoint.UnitRad))
	}
	vouchers, err := fresh.Pool.Vouchers(worldUser)
	if err != nil {
		t.Fatalf("vouchers: %v", err)
	}
	if !vouchers.Eq(fixedpoint.Wad(7)) {
		t.Fatalf("vouchers %s", fixedpoint.Format(vouchers, fixedpoint.UnitWad))
	}
	quote, ok := fresh.Feed.Quote(flr)
	if !ok || !quote.Price.Eq(fixedpoint.Ray(1)) {
		t.Fatalf("quote not restored: %+v", quote)
	}
	if !quote.UpdatedAt.Equal(mock.Now()) {
		t.Fatalf("quote time %s, want %s", quote.UpdatedAt, mock.Now())
	}
	for name, flag := range map[string]bool{
		"ledger":     fresh.Ledger.ShutdownFlag(),
		"feed":       fresh.Feed.ShutdownFlag(),
		"pool":       fresh.Pool.ShutdownFlag(),
		"teller":     fresh.Teller.ShutdownFlag(),
		"treasury":   fresh.Treasury.ShutdownFlag(),
		"liquidator": fresh.Liquidator.ShutdownFlag(),
	} {
		if !flag {
			t.Fatalf("%s not frozen after restore", name)
		}
	}
	if err := fresh.Restore([]byte{0x01}); err == nil {
		t.Fatalf("expected decode error")
	}
}
