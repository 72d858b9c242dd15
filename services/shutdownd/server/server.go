package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"probity/native/shutdown"
	"probity/observability"
	"probity/storage"
	"probity/storage/journal"
)

// Checkpoint keys. Both are written with the same sequence after every
// committed operation, collaborators first.
const (
	CheckpointName              = "shutdown"
	CollaboratorsCheckpointName = "collaborators"
)

// Snapshotter encodes the state of the services the coordinator settles
// against.
type Snapshotter interface {
	Snapshot() ([]byte, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine *shutdown.Engine
	// Store receives a checkpoint after every committed operation. Optional.
	Store storage.Database
	// Journal backs the journal endpoint. Optional.
	Journal   *journal.Journal
	Metrics   *observability.SettlementMetrics
	Logger    *slog.Logger
	Auth      AuthConfig
	RateLimit RateLimit
	// Replacement builds the collaborator bound by a switch request.
	Replacement func(target string) any
	// Collaborators is checkpointed alongside the coordinator when Store is
	// set. Optional.
	Collaborators Snapshotter
}

// Server exposes one settlement epoch over HTTP.
type Server struct {
	engine      *shutdown.Engine
	store       storage.Database
	journal     *journal.Journal
	metrics     *observability.SettlementMetrics
	logger      *slog.Logger
	replacement func(target string) any
	collab      Snapshotter

	// commitMu keeps an operation and its checkpoint together.
	commitMu sync.Mutex
	router   http.Handler
}

// New constructs the operator API router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	replacement := cfg.Replacement
	if replacement == nil {
		replacement = func(string) any { return nil }
	}
	srv := &Server{
		engine:      cfg.Engine,
		store:       cfg.Store,
		journal:     cfg.Journal,
		metrics:     cfg.Metrics,
		logger:      logger,
		replacement: replacement,
		collab:      cfg.Collaborators,
	}
	srv.router = srv.buildRouter(newAuthenticator(cfg.Auth, logger), newRateLimiter(cfg.RateLimit))
	return srv
}

// Handler exposes the instrumented HTTP router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "shutdownd")
}

func (s *Server) buildRouter(auth *authenticator, limiter *rateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(limiter.middleware)
		api.Get("/shutdown/state", s.getState)
		api.Get("/shutdown/phase", s.getPhase)
		api.Get("/shutdown/holders/{holder}", s.getHolder)
		api.Get("/shutdown/vaults/{asset}/{user}", s.getVault)
		api.Get("/journal", s.listJournal)

		api.Group(func(ops chi.Router) {
			ops.Use(auth.middleware)
			ops.Post("/shutdown/initiate", s.initiate)
			ops.Post("/shutdown/switch", s.switchAddress)
			ops.Post("/shutdown/wait-period", s.changeWaitPeriod)
			ops.Post("/shutdown/assets/{asset}/final-price", s.setFinalPrice)
			ops.Post("/shutdown/assets/{asset}/vaults/{user}/debt", s.processUserDebt)
			ops.Post("/shutdown/assets/{asset}/vaults/{user}/excess", s.freeExcessCollateral)
			ops.Post("/shutdown/assets/{asset}/vaults/{user}/equity", s.processUserEquity)
			ops.Post("/shutdown/assets/{asset}/redemption-ratio", s.calculateRedemptionRatio)
			ops.Post("/shutdown/assets/{asset}/redeem", s.redeemCollateral)
			ops.Post("/shutdown/reserves/write-off", s.writeOffFromReserves)
			ops.Post("/shutdown/final-debt-balance", s.setFinalDebtBalance)
			ops.Post("/shutdown/investor-obligation", s.calculateInvestorObligation)
			ops.Post("/shutdown/final-system-reserve", s.setFinalSystemReserve)
			ops.Post("/shutdown/stablecoin/return", s.returnStablecoin)
			ops.Post("/shutdown/vouchers/redeem", s.redeemVouchers)
		})
	})
	return r
}

type opResponse struct {
	Sequence uint64 `json:"sequence"`
	Phase    string `json:"phase"`
}

// apply runs one coordinator operation for the authenticated caller, then
// checkpoints the resulting state.
func (s *Server) apply(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller common.Address) error) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing caller")
		return
	}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if err := op(r.Context(), caller); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	sequence, err := s.commit()
	if err != nil {
		s.logger.Error("checkpoint failed", slog.Uint64("sequence", sequence), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "operation applied but checkpoint failed")
		return
	}
	writeJSON(w, http.StatusOK, opResponse{Sequence: sequence, Phase: s.engine.Phase()})
}

// commit writes a checkpoint and refreshes the state gauges.
func (s *Server) commit() (uint64, error) {
	sequence, payload, err := s.engine.Snapshot()
	if err != nil {
		return sequence, err
	}
	if s.metrics != nil {
		s.metrics.SetState(s.engine.Phase(), s.engine.State().UnbackedDebt)
	}
	if s.store == nil {
		return sequence, nil
	}
	if s.collab != nil {
		collab, err := s.collab.Snapshot()
		if err != nil {
			return sequence, err
		}
		if err := storage.WriteCheckpoint(s.store, CollaboratorsCheckpointName, sequence, collab); err != nil {
			return sequence, err
		}
	}
	return sequence, storage.WriteCheckpoint(s.store, CheckpointName, sequence, payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		observability.Requests().Observe(route, rec.status, time.Since(start))
	})
}
