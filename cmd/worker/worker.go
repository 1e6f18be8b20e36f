// Package worker implements the worker sub-command: schema migrations,
// continuous audit reconciliation and flight-status enrichment.
package worker

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // postgres driver for golang_migrate
	_ "github.com/golang-migrate/migrate/v4/source/file"       // support file scheme for golang_migrate
	"github.com/spf13/cobra"

	"github.com/volarelabs/flightcast/audit"
	cmdCommon "github.com/volarelabs/flightcast/cmd/common"
	"github.com/volarelabs/flightcast/config"
	"github.com/volarelabs/flightcast/enrich"
	"github.com/volarelabs/flightcast/forecast/canonical"
	"github.com/volarelabs/flightcast/forecast/envelope"
	"github.com/volarelabs/flightcast/log"
	"github.com/volarelabs/flightcast/metrics"
	"github.com/volarelabs/flightcast/store"
)

const moduleName = "worker"

var (
	// Path to the configuration file.
	configFile string

	workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Run the reconciliation and enrichment worker",
		Run:   runWorker,
	}
)

func runWorker(cmd *cobra.Command, args []string) {
	// Initialize config.
	cfg, err := config.InitConfig(configFile)
	if err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}

	// Initialize common environment.
	if err = cmdCommon.Init(cfg); err != nil {
		log.NewDefaultLogger("init").Error("init failed",
			"error", err,
		)
		os.Exit(1)
	}
	logger := cmdCommon.RootLogger()

	if cfg.Worker == nil {
		logger.Error("worker config not provided")
		os.Exit(1)
	}

	service, err := Init(cfg.Worker)
	if err != nil {
		os.Exit(1)
	}
	defer service.Shutdown()

	service.Start()
}

// Init initializes the worker service.
func Init(cfg *config.WorkerConfig) (*Service, error) {
	logger := cmdCommon.RootLogger()

	if err := runMigrations(cfg, logger); err != nil {
		return nil, err
	}

	service, err := NewService(cfg)
	if err != nil {
		logger.Error("service failed to start",
			"error", err,
		)
		return nil, err
	}
	return service, nil
}

// runMigrations applies pending schema migrations. A no-op for the
// in-memory backend.
func runMigrations(cfg *config.WorkerConfig, logger *log.Logger) error {
	var backend config.StorageBackend
	if err := backend.Set(cfg.Storage.Backend); err != nil {
		return err
	}
	if backend != config.BackendPostgres {
		return nil
	}

	m, err := migrate.New(
		cfg.Storage.Migrations,
		cfg.Storage.Endpoint,
	)
	if err != nil {
		logger.Error("migrator failed to start",
			"error", err,
		)
		return err
	}

	switch err = m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("no migrations needed to be applied")
	case err != nil:
		logger.Error("migrations failed",
			"error", err,
		)
		return err
	default:
		logger.Info("migrations completed")
	}
	return nil
}

// Service is the reconciliation and enrichment worker.
type Service struct {
	batches    []ethCommon.Hash
	interval   time.Duration
	store      store.EnvelopeStore
	reconciler *audit.Reconciler
	enricher   *enrich.Enricher
	cache      *enrich.KVStore
	masterKey  envelope.StaticKey
	metrics    metrics.WorkerMetrics
	logger     *log.Logger
}

// NewService creates a new worker service.
func NewService(cfg *config.WorkerConfig) (*Service, error) {
	ctx := context.Background()
	logger := cmdCommon.RootLogger().WithModule(moduleName)

	envelopes, err := cmdCommon.NewEnvelopeStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	ledgerClient, err := cmdCommon.NewLedgerClient(ctx, cfg.Ledger, logger)
	if err != nil {
		return nil, err
	}

	service := &Service{
		interval:   cfg.ReconcileInterval,
		store:      envelopes,
		reconciler: audit.NewReconciler(ledgerClient, envelopes, logger),
		metrics:    metrics.NewDefaultWorkerMetrics("flightcast_worker"),
		logger:     logger,
	}
	for _, raw := range cfg.Batches {
		service.batches = append(service.batches, ethCommon.HexToHash(raw))
	}

	if cfg.Cipher != nil {
		if service.masterKey, err = cfg.Cipher.Key(); err != nil {
			return nil, err
		}
	}

	if cfg.Enrich != nil {
		var cache *enrich.KVStore
		if cfg.Enrich.CacheDir != "" {
			if cache, err = enrich.OpenKVStore(cfg.Enrich.CacheDir, logger); err != nil {
				return nil, err
			}
		}
		opts := []enrich.Option{}
		if cfg.Enrich.Workers > 0 {
			opts = append(opts, enrich.WithWorkers(cfg.Enrich.Workers))
		}
		if cfg.Enrich.TTL > 0 {
			opts = append(opts, enrich.WithTTL(cfg.Enrich.TTL))
		}
		service.cache = cache
		service.enricher = enrich.NewEnricher(enrich.NewHTTPSource(cfg.Enrich.Endpoint), cache, logger, opts...)
	}

	return service, nil
}

// Start runs reconciliation sweeps until interrupted.
func (s *Service) Start() {
	s.logger.Info("starting worker service",
		"batches", len(s.batches),
		"interval", s.interval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("worker interrupted; shutting down")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	for _, batchHash := range s.batches {
		timeline, err := s.reconciler.Timeline(ctx, batchHash)
		if err != nil {
			s.logger.Error("reconciliation failed",
				"batch", batchHash.Hex(),
				"error", err,
			)
			s.metrics.ReconcileRuns.WithLabelValues(batchHash.Hex(), "failure").Inc()
			continue
		}
		s.metrics.ReconcileRuns.WithLabelValues(batchHash.Hex(), "success").Inc()
		s.metrics.UnavailableRows.WithLabelValues(batchHash.Hex()).Set(float64(timeline.Unavailable))
		s.metrics.TimelineRows.WithLabelValues(batchHash.Hex()).Set(float64(len(timeline.Rows)))

		if s.enricher == nil {
			continue
		}
		keys := s.scheduleKeys(ctx, timeline)
		if len(keys) == 0 {
			continue
		}
		statuses := s.enricher.Refresh(ctx, keys)
		s.logger.Info("enrichment sweep done",
			"batch", batchHash.Hex(),
			"keys", len(keys),
			"resolved", len(statuses),
		)
	}
}

// scheduleKeys decrypts the batch's available envelopes and collects the
// distinct schedule keys found in them. Requires the cipher key; without
// it enrichment has nothing to work from.
func (s *Service) scheduleKeys(ctx context.Context, timeline *audit.Timeline) []string {
	if s.masterKey == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var keys []string
	for _, row := range timeline.Rows {
		if row.Availability != audit.Available {
			continue
		}
		env, err := s.store.Get(ctx, row.ObjectKey)
		if err != nil {
			s.logger.Warn("failed to fetch envelope",
				"object_key", row.ObjectKey,
				"error", err,
			)
			continue
		}
		plaintext, err := envelope.Open(s.masterKey, env)
		if err != nil {
			s.logger.Warn("failed to open envelope",
				"object_key", row.ObjectKey,
				"error", err,
			)
			continue
		}
		entries, err := canonical.Parse(plaintext)
		if err != nil {
			s.logger.Warn("failed to parse canonical payload",
				"object_key", row.ObjectKey,
				"error", err,
			)
			continue
		}
		for _, entry := range entries {
			if _, ok := seen[entry.ScheduleKey]; ok {
				continue
			}
			seen[entry.ScheduleKey] = struct{}{}
			keys = append(keys, entry.ScheduleKey)
		}
	}
	return keys
}

// Shutdown closes the worker's resources.
func (s *Service) Shutdown() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
}

// Register registers the worker sub-command.
func Register(parentCmd *cobra.Command) {
	workerCmd.Flags().StringVar(&configFile, "config", "./config/local.yml", "path to the config.yml file")
	parentCmd.AddCommand(workerCmd)
}
