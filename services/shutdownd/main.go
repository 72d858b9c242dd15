package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/facebookgo/clock"

	"probity/config"
	"probity/core/events"
	"probity/native/shutdown"
	"probity/observability"
	"probity/observability/logging"
	telemetry "probity/observability/otel"
	"probity/scenario"
	"probity/services/shutdownd/server"
	"probity/storage"
	"probity/storage/journal"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "probity.toml", "path to the shutdownd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, logCloser := logging.SetupWithOptions("shutdownd", cfg.Environment, logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "shutdownd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	svc, err := bootstrap(cfg, logger, clock.New())
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer svc.Close()

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           svc.server.Handler(),
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeout) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", slog.Any("error", err))
		}
	}()

	logger.Info("shutdownd listening",
		slog.String("listen", cfg.Server.Listen),
		slog.String("phase", svc.world.Engine.Phase()),
		slog.Uint64("sequence", svc.world.Engine.Sequence()))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

type service struct {
	world   *scenario.World
	server  *server.Server
	db      storage.Database
	closers []func() error
}

func (s *service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// bootstrap wires the collaborators, the coordinator and the HTTP server from
// cfg, restoring the last checkpoint when one exists.
func bootstrap(cfg *config.Config, logger *slog.Logger, clk clock.Clock) (*service, error) {
	svc := &service{}
	if cfg.Storage.Backend != "memory" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	svc.db = db
	svc.closers = append(svc.closers, db.Close)

	emitters := events.Fanout{observability.Events()}
	var journ *journal.Journal
	if cfg.Journal.DSN != "" {
		gdb, err := journal.Open(cfg.Journal.DSN)
		if err != nil {
			svc.Close()
			return nil, err
		}
		journ, err = journal.New(gdb, logger)
		if err != nil {
			svc.Close()
			return nil, err
		}
		if sqlDB, err := gdb.DB(); err == nil {
			svc.closers = append(svc.closers, sqlDB.Close)
		}
		emitters = append(emitters, journ)
		logger.Info("settlement journal attached", logging.MaskField("dsn", cfg.Journal.DSN))
	}

	self, err := cfg.CoordinatorAddress()
	if err != nil {
		svc.Close()
		return nil, err
	}
	pool, err := cfg.ReservePoolAddress()
	if err != nil {
		svc.Close()
		return nil, err
	}
	governors, err := cfg.GovernorAddresses()
	if err != nil {
		svc.Close()
		return nil, err
	}
	assets, err := cfg.AssetIDs()
	if err != nil {
		svc.Close()
		return nil, err
	}
	world, err := scenario.NewWorld(scenario.Options{
		Self:        self,
		ReservePool: pool,
		Config:      cfg.CoordinatorConfig(),
		Governors:   governors,
		Assets:      assets,
		KV:          storage.NewKV(db),
		Clock:       clk,
		Emitter:     emitters,
		Logger:      logger,
	})
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.world = world

	metrics := observability.Settlement()
	world.Engine.SetObserver(metrics)
	if err := restore(world, db, cfg.Shutdown.SeedFile, logger); err != nil {
		svc.Close()
		return nil, err
	}
	metrics.SetState(world.Engine.Phase(), world.Engine.State().UnbackedDebt)

	svc.server = server.New(server.Config{
		Engine:  world.Engine,
		Store:   db,
		Journal: journ,
		Metrics: metrics,
		Logger:  logger,
		Auth: server.AuthConfig{
			HMACSecret: cfg.JWTSecret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: float64(cfg.Server.RateLimitPerMinute),
			Burst:             cfg.Server.Burst,
		},
		Replacement:   world.Replacement,
		Collaborators: world,
	})
	return svc, nil
}

// restore loads the last checkpoint pair. Collaborator state replaces the
// seed file once any operation has been committed, so settlement effects are
// never applied twice.
func restore(world *scenario.World, db storage.Database, seedFile string, logger *slog.Logger) error {
	collabSeq, collabPayload, err := storage.ReadCheckpoint(db, server.CollaboratorsCheckpointName)
	haveCollab := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("read collaborator checkpoint: %w", err)
	}
	sequence, payload, err := storage.ReadCheckpoint(db, server.CheckpointName)
	haveState := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("read checkpoint: %w", err)
	}

	switch {
	case !haveCollab && !haveState:
		if seedFile == "" {
			return nil
		}
		file, err := scenario.Load(seedFile)
		if err != nil {
			return err
		}
		return scenario.Seed(world, file)
	case !haveCollab:
		return fmt.Errorf("checkpoint %d has no collaborator state; refusing to reseed", sequence)
	case !haveState || collabSeq != sequence:
		return fmt.Errorf("collaborator checkpoint %d does not match coordinator checkpoint %d", collabSeq, sequence)
	}

	if err := world.Restore(collabPayload); err != nil {
		return err
	}
	state, err := shutdown.DecodeState(payload)
	if err != nil {
		return err
	}
	if err := world.Engine.Restore(state, sequence); err != nil {
		return err
	}
	logger.Info("restored settlement checkpoint",
		slog.Uint64("sequence", sequence),
		slog.String("phase", world.Engine.Phase()))
	return nil
}
