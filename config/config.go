// Package config enables config file parsing.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"

	"github.com/volarelabs/flightcast/forecast/envelope"
	"github.com/volarelabs/flightcast/log"
)

// Config contains the CLI configuration.
type Config struct {
	Server  *ServerConfig  `koanf:"server"`
	Worker  *WorkerConfig  `koanf:"worker"`
	Log     *LogConfig     `koanf:"log"`
	Metrics *MetricsConfig `koanf:"metrics"`
}

// Validate performs config validation.
func (cfg *Config) Validate() error {
	if cfg.Server != nil {
		if err := cfg.Server.Validate(); err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	if cfg.Worker != nil {
		if err := cfg.Worker.Validate(); err != nil {
			return fmt.Errorf("worker: %w", err)
		}
	}
	if cfg.Log != nil {
		if err := cfg.Log.Validate(); err != nil {
			return fmt.Errorf("log: %w", err)
		}
	}
	if cfg.Metrics != nil {
		if err := cfg.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// ServerConfig contains the API server configuration.
type ServerConfig struct {
	// Endpoint is the service endpoint from which to serve the API.
	Endpoint string `koanf:"endpoint"`

	// RequestTimeout is the per-request deadline for API handlers.
	RequestTimeout *time.Duration `koanf:"request_timeout"`

	Storage *StorageConfig `koanf:"storage"`
	Ledger  *LedgerConfig  `koanf:"ledger"`
	Cipher  *CipherConfig  `koanf:"cipher"`
}

// Validate validates the server configuration.
func (cfg *ServerConfig) Validate() error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("malformed server endpoint '%s'", cfg.Endpoint)
	}
	if cfg.Storage == nil {
		return fmt.Errorf("no storage config provided")
	}
	if err := cfg.Storage.Validate(false /* requireMigrations */); err != nil {
		return err
	}
	if cfg.Ledger == nil {
		return fmt.Errorf("no ledger config provided")
	}
	if err := cfg.Ledger.Validate(); err != nil {
		return err
	}
	if cfg.Cipher == nil {
		return fmt.Errorf("no cipher config provided")
	}
	return cfg.Cipher.Validate()
}

// WorkerConfig contains the background worker configuration: audit
// reconciliation and flight-status enrichment.
type WorkerConfig struct {
	// Batches are the batch hashes to reconcile continuously.
	Batches []string `koanf:"batches"`

	// ReconcileInterval is the pause between reconciliation sweeps.
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`

	Storage *StorageConfig `koanf:"storage"`
	Ledger  *LedgerConfig  `koanf:"ledger"`
	Cipher  *CipherConfig  `koanf:"cipher"`
	Enrich  *EnrichConfig  `koanf:"enrich"`
}

// Validate validates the worker configuration.
func (cfg *WorkerConfig) Validate() error {
	if cfg.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile_interval must be positive")
	}
	if cfg.Storage == nil {
		return fmt.Errorf("no storage config provided")
	}
	if err := cfg.Storage.Validate(true /* requireMigrations */); err != nil {
		return err
	}
	if cfg.Ledger == nil {
		return fmt.Errorf("no ledger config provided")
	}
	if err := cfg.Ledger.Validate(); err != nil {
		return err
	}
	if cfg.Cipher != nil {
		if err := cfg.Cipher.Validate(); err != nil {
			return err
		}
	}
	if cfg.Enrich != nil {
		return cfg.Enrich.Validate()
	}
	return nil
}

// StorageBackend is a storage backend.
type StorageBackend uint

const (
	// BackendPostgres is the PostgreSQL storage backend.
	BackendPostgres StorageBackend = iota
	// BackendInMemory is the in-memory storage backend.
	BackendInMemory
)

// String returns the string representation of a StorageBackend.
func (sb *StorageBackend) String() string {
	switch *sb {
	case BackendPostgres:
		return "postgres"
	case BackendInMemory:
		return "inmemory"
	default:
		panic("config: unsupported storage backend")
	}
}

// Set sets the StorageBackend to the value specified by the provided string.
func (sb *StorageBackend) Set(s string) error {
	switch strings.ToLower(s) {
	case "postgres":
		*sb = BackendPostgres
	case "inmemory":
		*sb = BackendInMemory
	default:
		return fmt.Errorf("config: invalid storage backend: '%s'", s)
	}

	return nil
}

// Type returns the list of supported StorageBackends.
func (sb *StorageBackend) Type() string {
	return "[postgres,inmemory]"
}

// StorageConfig contains the envelope store configuration.
type StorageConfig struct {
	// Endpoint is the storage endpoint from which to read/write envelopes.
	Endpoint string `koanf:"endpoint"`

	// Backend is the storage backend to select.
	Backend string `koanf:"backend"`

	// Migrations is the directory containing schema migrations.
	Migrations string `koanf:"migrations"`
}

// Validate validates the storage configuration.
func (cfg *StorageConfig) Validate(requireMigrations bool) error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("malformed storage endpoint '%s'", cfg.Endpoint)
	}
	if cfg.Migrations == "" && requireMigrations {
		return fmt.Errorf("invalid path to migrations '%s'", cfg.Migrations)
	}
	var sb StorageBackend
	return sb.Set(cfg.Backend)
}

// LedgerBackend is a ledger backend.
type LedgerBackend uint

const (
	// LedgerEVM talks to the on-chain batch program over JSON-RPC.
	LedgerEVM LedgerBackend = iota
	// LedgerInMemory runs the phase machine fully in process.
	LedgerInMemory
)

// Set sets the LedgerBackend to the value specified by the provided string.
func (lb *LedgerBackend) Set(s string) error {
	switch strings.ToLower(s) {
	case "evm":
		*lb = LedgerEVM
	case "inmemory":
		*lb = LedgerInMemory
	default:
		return fmt.Errorf("config: invalid ledger backend: '%s'", s)
	}

	return nil
}

// LedgerConfig contains the batch ledger configuration.
type LedgerConfig struct {
	// Backend is the ledger backend to select.
	Backend string `koanf:"backend"`

	// RPC is the JSON-RPC endpoint of the chain node.
	RPC string `koanf:"rpc"`

	// ContractAddress is the deployed batch program address, 0x-prefixed.
	ContractAddress string `koanf:"contract_address"`

	// ChainID is the chain id used for transaction signing.
	ChainID int64 `koanf:"chain_id"`

	// PrivateKey is the hex-encoded signer key. Read-only deployments
	// leave it empty.
	PrivateKey string `koanf:"private_key"`
}

// Validate validates the ledger configuration.
func (cfg *LedgerConfig) Validate() error {
	var lb LedgerBackend
	if err := lb.Set(cfg.Backend); err != nil {
		return err
	}
	if lb == LedgerInMemory {
		return nil
	}
	if cfg.RPC == "" {
		return fmt.Errorf("malformed ledger rpc endpoint '%s'", cfg.RPC)
	}
	if !strings.HasPrefix(cfg.ContractAddress, "0x") || len(cfg.ContractAddress) != 42 {
		return fmt.Errorf("malformed contract address '%s'", cfg.ContractAddress)
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("no chain id provided")
	}
	return nil
}

// CipherConfig holds the envelope cipher key material.
type CipherConfig struct {
	// MasterKey is the hex-encoded 32-byte AES-256-GCM key. Typically
	// injected via the CIPHER__MASTER_KEY environment variable rather
	// than written into the config file.
	MasterKey string `koanf:"master_key"`
}

// Validate validates the cipher configuration.
func (cfg *CipherConfig) Validate() error {
	_, err := cfg.Key()
	return err
}

// Key decodes the configured master key.
func (cfg *CipherConfig) Key() (envelope.StaticKey, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(cfg.MasterKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("malformed cipher master key: %w", err)
	}
	if len(b) != envelope.KeySize {
		return nil, fmt.Errorf("cipher master key must be %d bytes, got %d", envelope.KeySize, len(b))
	}
	return envelope.StaticKey(b), nil
}

// EnrichConfig contains the flight-status enrichment configuration.
type EnrichConfig struct {
	// Endpoint is the base URL of the flight-data API.
	Endpoint string `koanf:"endpoint"`

	// Workers is the fetch pool size; clamped to [4, 8] downstream.
	Workers int `koanf:"workers"`

	// TTL is the cache freshness window.
	TTL time.Duration `koanf:"ttl"`

	// CacheDir is the on-disk cache location.
	CacheDir string `koanf:"cache_dir"`
}

// Validate validates the enrichment configuration.
func (cfg *EnrichConfig) Validate() error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("malformed enrichment endpoint '%s'", cfg.Endpoint)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}
	if cfg.TTL < 0 {
		return fmt.Errorf("ttl must be non-negative")
	}
	return nil
}

// LogConfig contains the logging configuration.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
	File   string `koanf:"file"`
}

// Validate validates the logging configuration.
func (cfg *LogConfig) Validate() error {
	var format log.Format
	if err := format.Set(cfg.Format); err != nil {
		return err
	}
	var level log.Level
	return level.Set(cfg.Level)
}

// MetricsConfig contains the metrics configuration.
type MetricsConfig struct {
	PullEndpoint string `koanf:"pull_endpoint"`
}

// Validate validates the metrics configuration.
func (cfg *MetricsConfig) Validate() error {
	if cfg.PullEndpoint == "" {
		return fmt.Errorf("malformed Prometheus pull endpoint '%s'", cfg.PullEndpoint)
	}
	return nil
}

// InitConfig initializes configuration from file.
func InitConfig(f string) (*Config, error) {
	return initConfig(file.Provider(f))
}

func initConfig(provider koanf.Provider) (*Config, error) {
	var config Config
	k := koanf.New(".")

	// Load configuration from the yaml config.
	if err := k.Load(provider, yaml.Parser()); err != nil {
		return nil, err
	}

	// Load environment variables and merge into the loaded config.
	if err := k.Load(env.Provider("", ".", func(s string) string {
		// `__` is used as a hierarchy delimiter.
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Unmarshal into config.
	if err := k.Unmarshal("", &config); err != nil {
		return nil, err
	}

	// Validate config.
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
