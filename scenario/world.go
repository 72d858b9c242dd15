package scenario

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/facebookgo/clock"

	"probity/core/events"
	"probity/core/types"
	nativecommon "probity/native/common"
	"probity/native/pricefeed"
	"probity/native/registry"
	"probity/native/reservepool"
	"probity/native/shutdown"
	"probity/native/vaultengine"
	"probity/storage"
)

// Options describes the world a coordinator settles.
type Options struct {
	Self        common.Address
	ReservePool common.Address
	Config      shutdown.Config
	Governors   []common.Address
	Assets      []types.AssetID
	// KV backs the role registry. An in-memory store is used when nil.
	KV      *storage.KV
	Clock   clock.Clock
	Emitter events.Emitter
	Logger  *slog.Logger
}

// World wires a coordinator to in-memory collaborators.
type World struct {
	Ledger     *vaultengine.Engine
	Feed       *pricefeed.Feed
	Pool       *reservepool.Pool
	Teller     *nativecommon.Switch
	Treasury   *nativecommon.Switch
	Liquidator *nativecommon.Switch
	Registry   *registry.Registry
	Engine     *shutdown.Engine

	now      func() time.Time
	assets   []types.AssetID
	poolAddr common.Address
}

// NewWorld builds the collaborators, grants the governance role and
// constructs the coordinator.
func NewWorld(opts Options) (*World, error) {
	kv := opts.KV
	if kv == nil {
		kv = storage.NewKV(storage.NewMemDB())
	}
	reg := registry.New(kv)
	role := opts.Config.GovRole
	if role == "" {
		role = registry.RoleGov
	}
	for _, gov := range opts.Governors {
		if err := reg.SetupAddress(role, gov); err != nil {
			return nil, fmt.Errorf("scenario: grant %s: %w", gov.Hex(), err)
		}
	}

	ledger, err := newLedger(reg, opts.Assets)
	if err != nil {
		return nil, err
	}
	feed := pricefeed.New()
	if opts.Clock != nil {
		feed.SetNowFunc(opts.Clock.Now)
	}
	w := &World{
		Ledger:     ledger,
		Feed:       feed,
		Pool:       reservepool.New(opts.ReservePool, ledger),
		Teller:     nativecommon.NewSwitch("teller"),
		Treasury:   nativecommon.NewSwitch("treasury"),
		Liquidator: nativecommon.NewSwitch("liquidator"),
		Registry:   reg,
		assets:     append([]types.AssetID(nil), opts.Assets...),
		poolAddr:   opts.ReservePool,
	}
	engine, err := shutdown.NewEngine(opts.Self, opts.Config, shutdown.Collaborators{
		VaultEngine: w.Ledger,
		PriceFeed:   w.Feed,
		ReservePool: w.Pool,
		Teller:      w.Teller,
		Treasury:    w.Treasury,
		Liquidator:  w.Liquidator,
		Access:      reg,
	})
	if err != nil {
		return nil, err
	}
	if opts.Clock != nil {
		engine.SetClock(opts.Clock)
	}
	if opts.Emitter != nil {
		engine.SetEmitter(opts.Emitter)
	}
	if opts.Logger != nil {
		engine.SetLogger(opts.Logger)
	}
	w.Engine = engine
	w.now = time.Now
	if opts.Clock != nil {
		w.now = opts.Clock.Now
	}
	return w, nil
}

// Replacement builds a collaborator for a switchAddress request. Every target
// gets a fresh instance: a new ledger carries the world's assets and role
// registry, and a new reserve pool keeps the pool address and settles against
// the ledger currently bound to the coordinator. Unknown targets return nil.
func (w *World) Replacement(target string) any {
	switch target {
	case shutdown.TargetPriceFeed:
		feed := pricefeed.New()
		feed.SetNowFunc(w.now)
		return feed
	case shutdown.TargetTeller, shutdown.TargetTreasury, shutdown.TargetLiquidator:
		return nativecommon.NewSwitch(strings.ToLower(target))
	case shutdown.TargetVaultEngine:
		ledger, err := newLedger(w.Registry, w.assets)
		if err != nil {
			return nil
		}
		return ledger
	case shutdown.TargetReservePool:
		ledger, ok := w.Engine.Collaborators().VaultEngine.(*vaultengine.Engine)
		if !ok {
			return nil
		}
		return reservepool.New(w.poolAddr, ledger)
	}
	return nil
}

func newLedger(reg *registry.Registry, assets []types.AssetID) (*vaultengine.Engine, error) {
	ledger := vaultengine.New()
	ledger.SetAccessControl(reg)
	for _, asset := range assets {
		if err := ledger.InitAsset(asset); err != nil {
			return nil, fmt.Errorf("scenario: init asset %s: %w", asset, err)
		}
	}
	return ledger, nil
}

type stateful interface {
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

type collaboratorSnapshot struct {
	Ledger     []byte
	Feed       []byte
	Pool       []byte
	Teller     bool
	Treasury   bool
	Liquidator bool
}

// Snapshot encodes the state of the collaborators currently bound to the
// coordinator.
func (w *World) Snapshot() ([]byte, error) {
	collab := w.Engine.Collaborators()
	var snap collaboratorSnapshot
	for _, part := range []struct {
		name string
		c    any
		out  *[]byte
	}{
		{shutdown.TargetVaultEngine, collab.VaultEngine, &snap.Ledger},
		{shutdown.TargetPriceFeed, collab.PriceFeed, &snap.Feed},
		{shutdown.TargetReservePool, collab.ReservePool, &snap.Pool},
	} {
		s, ok := part.c.(stateful)
		if !ok {
			return nil, fmt.Errorf("scenario: %s %T cannot be persisted", part.name, part.c)
		}
		encoded, err := s.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("scenario: snapshot %s: %w", part.name, err)
		}
		*part.out = encoded
	}
	snap.Teller = collab.Teller.ShutdownFlag()
	snap.Treasury = collab.Treasury.ShutdownFlag()
	snap.Liquidator = collab.Liquidator.ShutdownFlag()
	return rlp.EncodeToBytes(&snap)
}

// Restore loads a Snapshot into the collaborators bound to the coordinator.
func (w *World) Restore(data []byte) error {
	var snap collaboratorSnapshot
	if err := rlp.DecodeBytes(data, &snap); err != nil {
		return fmt.Errorf("scenario: decode collaborators: %w", err)
	}
	collab := w.Engine.Collaborators()
	for _, part := range []struct {
		name string
		c    any
		in   []byte
	}{
		{shutdown.TargetVaultEngine, collab.VaultEngine, snap.Ledger},
		{shutdown.TargetPriceFeed, collab.PriceFeed, snap.Feed},
		{shutdown.TargetReservePool, collab.ReservePool, snap.Pool},
	} {
		s, ok := part.c.(stateful)
		if !ok {
			return fmt.Errorf("scenario: %s %T cannot be restored", part.name, part.c)
		}
		if err := s.Restore(part.in); err != nil {
			return err
		}
	}
	for _, flag := range []struct {
		sw nativecommon.ShutdownSwitch
		on bool
	}{
		{collab.Teller, snap.Teller},
		{collab.Treasury, snap.Treasury},
		{collab.Liquidator, snap.Liquidator},
	} {
		if err := flag.sw.SetShutdownFlag(flag.on); err != nil {
			return err
		}
	}
	return nil
}
