package rewardd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"finova/config"
	"finova/core/ledger"
	"finova/core/network"
	"finova/core/types"
	"finova/observability/logging"
	telemetry "finova/observability/otel"
	"finova/services/rewardd/audit"
	"finova/storage"
	"finova/storage/graphstore"
)

// Main initialises and runs the reward daemon.
func Main() error {
	var (
		cfgPath string
		envPath string
	)
	flag.StringVar(&cfgPath, "config", "services/rewardd/config.yaml", "path to rewardd configuration")
	flag.StringVar(&envPath, "env-file", ".env", "optional dotenv file")
	flag.Parse()

	if err := config.LoadEnv(envPath); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	env := config.Environment()
	logger, logCloser := logging.SetupWithFile("rewardd", env, logging.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   true,
	})
	defer func() { _ = logCloser.Close() }()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("rewardd", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := openLedgerDB(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()

	store, err := graphstore.Open(cfg.Graph.Path, cfg.Graph.CacheSize, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("open graph store: %w", err)
	}
	defer func() { _ = store.Close() }()
	graph := network.New(network.WithStore(store), network.WithDirectCaps(cfg.Graph.DirectCap))

	startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	err = graph.Restore(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("restore graph: %w", err)
	}

	p, err := config.LoadParams(cfg.ParamsPath)
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	if epoch := types.EpochOf(time.Now()); epoch > p.Epoch {
		if p, err = p.Advance(epoch, uint64(graph.Len())); err != nil {
			return fmt.Errorf("advance params: %w", err)
		}
	}

	auditDB, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
	if err != nil {
		return fmt.Errorf("open audit db: %w", err)
	}
	if sqlDB, err := auditDB.DB(); err == nil {
		defer sqlDB.Close()
	}

	hub := NewHub(cfg.Stream.Buffer, logger)
	svc, err := NewService(p, ledger.New(db), graph,
		WithLogger(logger),
		WithEmitter(hub),
		WithReviewQueue(audit.NewQueue(auditDB)),
		WithReplayFilter(cfg.Dedupe),
	)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}
	logger.Info("graph restored", slog.Int("accounts", graph.Len()), slog.Int("roots", len(graph.Roots())))

	if cfg.Auth.HMACSecret == "" {
		logger.Warn("auth disabled; write and review routes are open")
	}
	server := NewServer(svc, cfg.RateLimit, logger, WithAuth(cfg.Auth), WithEventStream(hub))
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := NewScheduler(svc, cfg.Scheduler, cfg.Export.Dir, logger)
	go func() {
		if err := scheduler.Run(stopCtx, cfg.Scheduler.Interval.Duration); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", slog.Any("error", err))
		}
	}()

	errs := make(chan error, 1)
	go func() {
		logger.Info("rewardd listening", slog.String("addr", cfg.ListenAddress))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		current, _ := svc.Params()
		if err := config.SaveParams(cfg.ParamsPath, current); err != nil {
			logger.Error("persist params", slog.Any("error", err))
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func openLedgerDB(cfg LedgerConfig) (storage.Database, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemDB(), nil
	case "leveldb":
		return storage.NewLevelDB(cfg.Path)
	case "badger":
		if err := os.MkdirAll(filepath.Clean(cfg.Path), 0o755); err != nil {
			return nil, err
		}
		return storage.NewBadgerDB(cfg.Path)
	default:
		return nil, fmt.Errorf("ledger backend %q not supported", cfg.Backend)
	}
}
