// Package postgres implements the envelope store backed by PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"

	"github.com/volarelabs/flightcast/forecast/envelope"
	"github.com/volarelabs/flightcast/log"
	"github.com/volarelabs/flightcast/store"
)

const moduleName = "postgres"

// Client is an envelope store backed by a PostgreSQL pool. It also
// exposes the pool to sibling stores (auth nonces) that share the
// database.
type Client struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

var _ store.EnvelopeStore = (*Client)(nil)

// pgxLogger bridges pgx tracelog output into the standard logger.
type pgxLogger struct {
	logger *log.Logger
}

func (l *pgxLogger) logFuncForLevel(level tracelog.LogLevel) func(string, ...interface{}) {
	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		return l.logger.Debug
	case tracelog.LogLevelInfo:
		return l.logger.Info
	case tracelog.LogLevelWarn:
		return l.logger.Warn
	case tracelog.LogLevelError, tracelog.LogLevelNone:
		return l.logger.Error
	default:
		l.logger.Warn("unknown pgx log level", "unknown_level", level)
		return l.logger.Info
	}
}

// Log implements tracelog.Logger.
func (l *pgxLogger) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]interface{}) {
	args := []interface{}{}
	for k, v := range data {
		args = append(args, k, v)
	}
	l.logFuncForLevel(level)(msg, args...)
}

// NewClient creates a new PostgreSQL-backed envelope store.
func NewClient(ctx context.Context, connString string, l *log.Logger) (*Client, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	// For a log line to be produced, it needs to be >= the level here
	// and >= the level of the underlying logger.
	config.ConnConfig.Tracer = &tracelog.TraceLog{
		LogLevel: tracelog.LogLevelWarn,
		Logger: &pgxLogger{
			logger: l.WithModule(moduleName).With("db", config.ConnConfig.Database),
		},
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Client{
		pool:   pool,
		logger: l.WithModule(moduleName),
	}, nil
}

// Put implements store.EnvelopeStore. Envelopes are write-once: a
// conflicting key is an error, never an overwrite.
func (c *Client) Put(ctx context.Context, ref store.ObjectRef, env *envelope.EnvelopeV1) (*store.Metadata, error) {
	body, err := env.Marshal()
	if err != nil {
		return nil, err
	}
	ctHash, err := env.CiphertextHash()
	if err != nil {
		return nil, err
	}

	key := ref.Key()
	tag, err := c.pool.Exec(ctx, queryInsertEnvelope,
		key,
		ref.BatchHash.Hex(),
		addressKey(ref.Provider),
		ref.CreatedAt,
		ctHash.Hex(),
		body,
	)
	if err != nil {
		return nil, fmt.Errorf("store: insert envelope: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrAlreadyExists
	}
	return &store.Metadata{
		Key:            key,
		BatchHash:      ref.BatchHash,
		Provider:       ref.Provider,
		CreatedAt:      ref.CreatedAt,
		CiphertextHash: ctHash,
		Size:           len(body),
	}, nil
}

// Get implements store.EnvelopeStore.
func (c *Client) Get(ctx context.Context, key string) (*envelope.EnvelopeV1, error) {
	var body []byte
	if err := c.pool.QueryRow(ctx, queryGetEnvelope, key).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("store: get envelope: %w", err)
	}
	return envelope.Parse(body)
}

// ListByBatch implements store.EnvelopeStore.
func (c *Client) ListByBatch(ctx context.Context, batchHash common.Hash) ([]*store.Metadata, error) {
	rows, err := c.pool.Query(ctx, queryListByBatch, batchHash.Hex())
	if err != nil {
		return nil, fmt.Errorf("store: list by batch: %w", err)
	}
	defer rows.Close()
	return scanMetadata(rows)
}

// ListByBatchProvider implements store.EnvelopeStore.
func (c *Client) ListByBatchProvider(ctx context.Context, batchHash common.Hash, provider common.Address) ([]*store.Metadata, error) {
	rows, err := c.pool.Query(ctx, queryListByBatchProvider, batchHash.Hex(), addressKey(provider))
	if err != nil {
		return nil, fmt.Errorf("store: list by batch provider: %w", err)
	}
	defer rows.Close()
	return scanMetadata(rows)
}

// Pool returns the underlying connection pool for sibling stores that
// share the database.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Close releases the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}

func scanMetadata(rows pgx.Rows) ([]*store.Metadata, error) {
	var out []*store.Metadata
	for rows.Next() {
		var (
			meta       store.Metadata
			batchHash  string
			provider   string
			ctHash     string
			bodyLength int
		)
		if err := rows.Scan(&meta.Key, &batchHash, &provider, &meta.CreatedAt, &ctHash, &bodyLength); err != nil {
			return nil, fmt.Errorf("store: scan metadata: %w", err)
		}
		meta.BatchHash = common.HexToHash(batchHash)
		meta.Provider = common.HexToAddress(provider)
		meta.CiphertextHash = common.HexToHash(ctHash)
		meta.Size = bodyLength
		out = append(out, &meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: metadata rows: %w", err)
	}
	return out, nil
}
