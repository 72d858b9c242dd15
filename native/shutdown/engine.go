package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/facebookgo/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"probity/core/events"
	"probity/core/types"
)

const moduleName = "shutdown"

// Observer receives the outcome of every coordinator operation.
type Observer interface {
	Observe(operation string, elapsed time.Duration, err error)
}

// Engine is the global settlement coordinator. Every public operation runs
// under a single mutex and either commits all of its effects on the
// coordinator state or none of them.
type Engine struct {
	mu       sync.Mutex
	self     common.Address
	cfg      Config
	state    *State
	collab   Collaborators
	clock    clock.Clock
	emitter  events.Emitter
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
	sequence uint64
}

// NewEngine constructs a coordinator acting as self on the collaborators.
func NewEngine(self common.Address, cfg Config, collab Collaborators) (*Engine, error) {
	if self == (common.Address{}) {
		return nil, fmt.Errorf("shutdown: coordinator address required")
	}
	if err := collab.validate(); err != nil {
		return nil, err
	}
	cfg.EnsureDefaults()
	return &Engine{
		self:    self,
		cfg:     cfg,
		state:   newState(cfg),
		collab:  collab,
		clock:   clock.New(),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("probity/native/shutdown"),
	}, nil
}

func (e *Engine) SetClock(c clock.Clock) {
	if e == nil || c == nil {
		return
	}
	e.mu.Lock()
	e.clock = c
	e.mu.Unlock()
}

// SetEmitter configures the event emitter used for settlement events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.mu.Lock()
	e.logger = logger.With(slog.String("module", moduleName))
	e.mu.Unlock()
}

func (e *Engine) SetObserver(observer Observer) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.observer = observer
	e.mu.Unlock()
}

// Restore replaces the settlement state, typically with a decoded checkpoint.
func (e *Engine) Restore(state *State, sequence uint64) error {
	if state == nil {
		return fmt.Errorf("shutdown: nil state")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = state.Clone()
	e.sequence = sequence
	return nil
}

func (e *Engine) Address() common.Address { return e.self }

// State returns a deep copy of the settlement aggregate.
func (e *Engine) State() *State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Snapshot returns the encoded state together with the number of committed
// operations, read under the same lock.
func (e *Engine) Snapshot() (uint64, []byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	encoded, err := EncodeState(e.state)
	return e.sequence, encoded, err
}

// View is a consistent read of the coordinator taken under one lock.
type View struct {
	State           *State
	Phase           string
	Sequence        uint64
	AuctionDeadline time.Time
}

func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return View{
		State:           e.state.Clone(),
		Phase:           phaseOf(e.state),
		Sequence:        e.sequence,
		AuctionDeadline: e.auctionDeadline(),
	}
}

// Sequence is the number of operations committed since the epoch began.
func (e *Engine) Sequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

func (e *Engine) Asset(asset types.AssetID) *AssetRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.asset(asset).Clone()
}

// Collaborators returns the currently bound services.
func (e *Engine) Collaborators() Collaborators {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collab
}

// Phase summarises how far settlement has progressed.
func (e *Engine) Phase() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return phaseOf(e.state)
}

func phaseOf(s *State) string {
	switch {
	case !s.Initiated:
		return "normal"
	case s.FinalTotalReserveSet:
		return "reserve_locked"
	case s.FinalDebtBalanceSet:
		return "debt_locked"
	default:
		return "initiated"
	}
}

// AuctionDeadline is the end of the auction wait window, zero before
// initiation.
func (e *Engine) AuctionDeadline() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.auctionDeadline()
}

func (e *Engine) auctionDeadline() time.Time {
	if !e.state.Initiated {
		return time.Time{}
	}
	return e.state.InitiatedAt.Add(e.state.AuctionWaitPeriod)
}

// run wraps a single operation with access control, tracing, logging and
// event emission. fn performs the work and returns the event to emit on
// success.
func (e *Engine) run(ctx context.Context, op string, caller common.Address, role string, fn func() (events.Event, error)) error {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := e.tracer.Start(ctx, "shutdown."+op, trace.WithAttributes(
		attribute.String("caller", caller.Hex()),
	))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	start := e.clock.Now()

	err := ctx.Err()
	if err == nil && !e.collab.Access.HasRole(caller, role) {
		err = fmt.Errorf("%w: %s requires %q", ErrPermissionDenied, op, role)
	}
	var evt events.Event
	if err == nil {
		evt, err = fn()
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("settlement operation rejected",
			slog.String("op", op),
			slog.String("caller", caller.Hex()),
			slog.Any("error", err))
	} else {
		e.sequence++
		if evt != nil {
			e.emitter.Emit(evt)
		}
		e.logger.Info("settlement operation applied",
			slog.String("op", op),
			slog.String("caller", caller.Hex()),
			slog.String("phase", phaseOf(e.state)),
			slog.Uint64("sequence", e.sequence))
	}
	if e.observer != nil {
		e.observer.Observe(op, e.clock.Now().Sub(start), err)
	}
	return err
}

func (e *Engine) settlementEvent(kind string, caller common.Address) events.Settlement {
	return events.Settlement{Kind: kind, Caller: caller, At: e.clock.Now().Unix()}
}
