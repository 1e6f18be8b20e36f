// Package api implements the serve sub-command.
package api

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/volarelabs/flightcast/api"
	v1 "github.com/volarelabs/flightcast/api/v1"
	"github.com/volarelabs/flightcast/audit"
	"github.com/volarelabs/flightcast/auth"
	cmdCommon "github.com/volarelabs/flightcast/cmd/common"
	"github.com/volarelabs/flightcast/config"
	"github.com/volarelabs/flightcast/log"
	"github.com/volarelabs/flightcast/store"
	"github.com/volarelabs/flightcast/store/postgres"
	"github.com/volarelabs/flightcast/submit"
)

const moduleName = "api"

var (
	// Path to the configuration file.
	configFile string

	apiCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the forecast service API",
		Run:   runServer,
	}
)

func runServer(cmd *cobra.Command, args []string) {
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

	if cfg.Server == nil {
		logger.Error("server config not provided")
		os.Exit(1)
	}

	service, err := Init(cfg.Server)
	if err != nil {
		os.Exit(1)
	}

	service.Start()
}

// Init initializes the API service.
func Init(cfg *config.ServerConfig) (*Service, error) {
	logger := cmdCommon.RootLogger()

	service, err := NewService(cfg)
	if err != nil {
		logger.Error("service failed to start",
			"error", err,
		)
		return nil, err
	}
	return service, nil
}

// Service is the forecast API service.
type Service struct {
	server  string
	timeout time.Duration
	api     *api.ForecastAPI
	logger  *log.Logger
}

// NewService creates a new API service.
func NewService(cfg *config.ServerConfig) (*Service, error) {
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
	masterKey, err := cfg.Cipher.Key()
	if err != nil {
		return nil, err
	}

	verifier := auth.NewVerifier(newNonceStore(envelopes))
	pipeline := submit.NewPipeline(ledgerClient, envelopes, masterKey, logger)
	reconciler := audit.NewReconciler(ledgerClient, envelopes, logger)

	handler := v1.NewHandler(ledgerClient, pipeline, reconciler, verifier, logger)
	forecastAPI := api.NewForecastAPI([]api.APIHandler{handler}, logger)

	timeout := 10 * time.Second
	if cfg.RequestTimeout != nil {
		timeout = *cfg.RequestTimeout
	}

	return &Service{
		server:  cfg.Endpoint,
		timeout: timeout,
		api:     forecastAPI,
		logger:  logger,
	}, nil
}

// newNonceStore keeps login nonces next to the envelopes when the store
// is postgres-backed, and in memory otherwise.
func newNonceStore(envelopes store.EnvelopeStore) auth.NonceStore {
	if pg, ok := envelopes.(*postgres.Client); ok {
		return auth.NewPGStore(pg.Pool())
	}
	return auth.NewMemStore()
}

// Start starts the API service.
func (s *Service) Start() {
	s.logger.Info("starting api service at " + s.server)

	server := &http.Server{
		Addr:           s.server,
		Handler:        s.api.Router(),
		ReadTimeout:    s.timeout,
		WriteTimeout:   s.timeout,
		MaxHeaderBytes: 1 << 20,
	}

	s.logger.Error("shutting down",
		"error", server.ListenAndServe(),
	)
}

// Register registers the serve sub-command.
func Register(parentCmd *cobra.Command) {
	apiCmd.Flags().StringVar(&configFile, "config", "./config/local.yml", "path to the config.yml file")
	parentCmd.AddCommand(apiCmd)
}
