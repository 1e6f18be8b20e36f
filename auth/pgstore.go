package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	queryUpsertNonce = `
		INSERT INTO auth_nonces (address, nonce, expires_at)
			VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE
			SET nonce = excluded.nonce, expires_at = excluded.expires_at`

	queryConsumeNonce = `
		DELETE FROM auth_nonces
			WHERE address = $1 AND nonce = $2
		RETURNING expires_at`
)

// PGStore is a NonceStore backed by PostgreSQL. The delete-returning
// consume makes the database the serialization point: of two concurrent
// consumers, exactly one sees the row.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ NonceStore = (*PGStore)(nil)

// NewPGStore creates a nonce store over an existing pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Issue implements NonceStore.
func (s *PGStore) Issue(ctx context.Context, ch Challenge) error {
	_, err := s.pool.Exec(ctx, queryUpsertNonce,
		strings.ToLower(ch.Address.Hex()), ch.Nonce, ch.ExpiresAt)
	if err != nil {
		return fmt.Errorf("auth: upsert nonce: %w", err)
	}
	return nil
}

// Consume implements NonceStore.
func (s *PGStore) Consume(ctx context.Context, address common.Address, nonce string) (time.Time, error) {
	var expires time.Time
	err := s.pool.QueryRow(ctx, queryConsumeNonce,
		strings.ToLower(address.Hex()), nonce).Scan(&expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrNonceNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("auth: consume nonce: %w", err)
	}
	return expires, nil
}
