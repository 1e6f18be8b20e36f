// Package common implements common flightcast command options.
package common

import (
	"context"
	"fmt"
	"io"
	"os"

	ethCommon "github.com/ethereum/go-ethereum/common"

	"github.com/volarelabs/flightcast/config"
	"github.com/volarelabs/flightcast/ledger"
	ledgerEVM "github.com/volarelabs/flightcast/ledger/evm"
	ledgerMemory "github.com/volarelabs/flightcast/ledger/memory"
	"github.com/volarelabs/flightcast/log"
	"github.com/volarelabs/flightcast/metrics"
	"github.com/volarelabs/flightcast/store"
	storeMemory "github.com/volarelabs/flightcast/store/memory"
	"github.com/volarelabs/flightcast/store/postgres"
)

var rootLogger = log.NewDefaultLogger("flightcast")

// Init initializes the common environment.
func Init(cfg *config.Config) error {
	var w io.Writer = os.Stdout
	format := log.FmtJSON
	level := log.LevelInfo

	// Initialize logging.
	if cfg.Log != nil {
		var err error
		if w, err = getLoggingStream(cfg.Log); err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		if err := format.Set(cfg.Log.Format); err != nil {
			return err
		}
		if err := level.Set(cfg.Log.Level); err != nil {
			return err
		}
	}
	logger, err := log.NewLogger("flightcast", w, format, level)
	if err != nil {
		return err
	}
	rootLogger = logger

	// Initialize Prometheus service.
	if cfg.Metrics != nil {
		promServer, err := metrics.NewPullService(cfg.Metrics.PullEndpoint, rootLogger)
		if err != nil {
			rootLogger.Error("failed to initialize metrics", "err", err)
			os.Exit(1)
		}
		promServer.StartInstrumentation()
	}
	return nil
}

// RootLogger returns the logger defined by logging flags.
func RootLogger() *log.Logger {
	return rootLogger
}

func getLoggingStream(cfg *config.LogConfig) (io.Writer, error) {
	if cfg == nil || cfg.File == "" {
		return os.Stdout, nil
	}
	w, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewEnvelopeStore creates a client to the configured envelope store.
func NewEnvelopeStore(ctx context.Context, cfg *config.StorageConfig, logger *log.Logger) (store.EnvelopeStore, error) {
	var backend config.StorageBackend
	if err := backend.Set(cfg.Backend); err != nil {
		return nil, err
	}

	switch backend {
	case config.BackendPostgres:
		return postgres.NewClient(ctx, cfg.Endpoint, logger)
	case config.BackendInMemory:
		return storeMemory.NewStore(), nil
	default:
		panic(fmt.Sprintf("unsupported storage backend: %v", backend))
	}
}

// NewLedgerClient creates a client to the configured batch ledger.
func NewLedgerClient(ctx context.Context, cfg *config.LedgerConfig, logger *log.Logger) (ledger.Client, error) {
	var backend config.LedgerBackend
	if err := backend.Set(cfg.Backend); err != nil {
		return nil, err
	}

	switch backend {
	case config.LedgerEVM:
		return ledgerEVM.NewClient(ctx, cfg.RPC,
			ethCommon.HexToAddress(cfg.ContractAddress), cfg.ChainID, cfg.PrivateKey, logger)
	case config.LedgerInMemory:
		// Local development only; state does not survive a restart.
		return ledgerMemory.NewLedger(), nil
	default:
		panic(fmt.Sprintf("unsupported ledger backend: %v", backend))
	}
}
