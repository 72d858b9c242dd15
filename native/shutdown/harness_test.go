package shutdown

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"
	"github.com/holiman/uint256"

	"probity/core/events"
	"probity/core/types"
	nativecommon "probity/native/common"
	"probity/native/fixedpoint"
	"probity/native/pricefeed"
	"probity/native/registry"
	"probity/native/reservepool"
	"probity/native/vaultengine"
	"probity/storage"
)

var ctx = context.Background()

var (
	flrAsset = types.MustAssetID("FLR")
	gov      = common.HexToAddress("0x600d")
	user     = common.HexToAddress("0x05e4")
	owner    = common.HexToAddress("0x0a4e")
	stranger = common.HexToAddress("0xbad0")
	self     = common.HexToAddress("0x5d0e")
	poolAddr = common.HexToAddress("0x7e5e")
)

type liquidateCall struct {
	asset      types.AssetID
	user       common.Address
	roles      types.LiquidationRoles
	collateral *big.Int
	debt       *big.Int
	equity     *big.Int
}

// recordingLedger wraps the in-memory ledger and keeps every liquidation so
// tests can assert the exact deltas the coordinator requested.
type recordingLedger struct {
	*vaultengine.Engine
	mu            sync.Mutex
	calls         []liquidateCall
	failNext      error
	failAuthorize error
}

func (r *recordingLedger) AuthorizeLiquidator(addr common.Address) error {
	if r.failAuthorize != nil {
		return r.failAuthorize
	}
	return r.Engine.AuthorizeLiquidator(addr)
}

// stuckSwitch refuses to raise its flag.
type stuckSwitch struct {
	*nativecommon.Switch
	err error
}

func (s *stuckSwitch) SetShutdownFlag(flag bool) error {
	if flag {
		return s.err
	}
	return s.Switch.SetShutdownFlag(flag)
}

// brokenPool fails every write-off against foreign debt.
type brokenPool struct {
	*reservepool.Pool
	err error
}

func (p *brokenPool) WriteOff(common.Address, *uint256.Int) error { return p.err }

func (r *recordingLedger) Liquidate(caller common.Address, asset types.AssetID, u common.Address, roles types.LiquidationRoles, coll, debt, equity *big.Int) error {
	r.mu.Lock()
	if r.failNext != nil {
		err := r.failNext
		r.failNext = nil
		r.mu.Unlock()
		return err
	}
	r.calls = append(r.calls, liquidateCall{asset: asset, user: u, roles: roles, collateral: coll, debt: debt, equity: equity})
	r.mu.Unlock()
	return r.Engine.Liquidate(caller, asset, u, roles, coll, debt, equity)
}

func (r *recordingLedger) lastCall(t *testing.T) liquidateCall {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		t.Fatalf("expected a liquidation call")
	}
	return r.calls[len(r.calls)-1]
}

type countingObserver struct {
	mu       sync.Mutex
	total    int
	failures int
}

func (o *countingObserver) Observe(_ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.total++
	if err != nil {
		o.failures++
	}
}

type harness struct {
	engine     *Engine
	ledger     *recordingLedger
	feed       *pricefeed.Feed
	pool       *reservepool.Pool
	teller     *nativecommon.Switch
	treasury   *nativecommon.Switch
	liquidator *nativecommon.Switch
	registry   *registry.Registry
	clock      *clock.Mock
	events     *events.Recorder
	observer   *countingObserver
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	ledger := &recordingLedger{Engine: vaultengine.New()}
	if err := ledger.InitAsset(flrAsset); err != nil {
		t.Fatalf("init asset: %v", err)
	}
	reg := registry.New(storage.NewKV(storage.NewMemDB()))
	if err := reg.SetupAddress(registry.RoleGov, gov); err != nil {
		t.Fatalf("setup gov: %v", err)
	}
	h := &harness{
		ledger:     ledger,
		feed:       pricefeed.New(),
		pool:       reservepool.New(poolAddr, ledger.Engine),
		teller:     nativecommon.NewSwitch("teller"),
		treasury:   nativecommon.NewSwitch("treasury"),
		liquidator: nativecommon.NewSwitch("liquidator"),
		registry:   reg,
		clock:      clock.NewMock(),
		events:     &events.Recorder{},
		observer:   &countingObserver{},
	}
	h.clock.Add(1_700_000_000 * time.Second)
	cfg := DefaultConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	engine, err := NewEngine(self, cfg, Collaborators{
		VaultEngine: ledger,
		PriceFeed:   h.feed,
		ReservePool: h.pool,
		Teller:      h.teller,
		Treasury:    h.treasury,
		Liquidator:  h.liquidator,
		Access:      reg,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetClock(h.clock)
	engine.SetEmitter(h.events)
	engine.SetObserver(h.observer)
	h.engine = engine
	return h
}

func anyHolder(cfg *Config) { cfg.HolderRole = registry.RoleAny }

// openDebt deposits coll and draws debt against it; the borrower receives
// debt in stablecoin.
func (h *harness) openDebt(t *testing.T, who common.Address, coll, debt *uint256.Int) {
	t.Helper()
	if err := h.ledger.Deposit(flrAsset, who, coll); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.ledger.ModifyDebt(flrAsset, who, coll.ToBig(), debt.ToBig()); err != nil {
		t.Fatalf("modify debt: %v", err)
	}
}

func (h *harness) openEquity(t *testing.T, who common.Address, coll, equity *uint256.Int) {
	t.Helper()
	if err := h.ledger.Deposit(flrAsset, who, coll); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := h.ledger.ModifyEquity(flrAsset, who, coll.ToBig(), equity.ToBig()); err != nil {
		t.Fatalf("modify equity: %v", err)
	}
}

func (h *harness) fundReserve(t *testing.T, from common.Address, amount *uint256.Int) {
	t.Helper()
	if err := h.ledger.MoveStablecoin(from, from, poolAddr, amount); err != nil {
		t.Fatalf("fund reserve: %v", err)
	}
}

func (h *harness) setPrice(t *testing.T, price *uint256.Int) {
	t.Helper()
	if err := h.feed.UpdatePrice(flrAsset, price); err != nil {
		t.Fatalf("update price: %v", err)
	}
}

func (h *harness) initiate(t *testing.T) {
	t.Helper()
	if err := h.engine.InitiateShutdown(ctx, gov); err != nil {
		t.Fatalf("initiate shutdown: %v", err)
	}
}

func (h *harness) lockPrice(t *testing.T) {
	t.Helper()
	if err := h.engine.SetFinalPrice(ctx, gov, flrAsset); err != nil {
		t.Fatalf("set final price: %v", err)
	}
}

func (h *harness) lockDebtBalance(t *testing.T) {
	t.Helper()
	h.clock.Add(DefaultWaitPeriod)
	if err := h.engine.SetFinalDebtBalance(ctx, gov); err != nil {
		t.Fatalf("set final debt balance: %v", err)
	}
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}

func expectAmount(t *testing.T, name string, got, want *uint256.Int) {
	t.Helper()
	if !fixedpoint.Copy(got).Eq(fixedpoint.Copy(want)) {
		t.Fatalf("unexpected %s: got %s want %s", name, fixedpoint.Copy(got), fixedpoint.Copy(want))
	}
}

func expectDelta(t *testing.T, name string, got *big.Int, want *uint256.Int) {
	t.Helper()
	expected := fixedpoint.Neg(want)
	if got == nil || got.Cmp(expected) != 0 {
		t.Fatalf("unexpected %s delta: got %v want %v", name, got, expected)
	}
}
