// Package store defines the off-ledger submission store: append-only
// object storage for encrypted envelopes, keyed by batch, provider and
// time. The ledger is authoritative for a commitment's existence; this
// store is authoritative only for envelope content.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/volarelabs/flightcast/forecast/envelope"
)

var (
	// ErrNotFound is returned when no object exists under a key.
	ErrNotFound = errors.New("store: object not found")
	// ErrAlreadyExists is returned on a write to an existing key.
	// Envelopes are write-once.
	ErrAlreadyExists = errors.New("store: object already exists")
)

// ObjectRef locates one envelope object. Its key is
// {batchHash}/{providerAddress}/{epochMillis}-{randomSuffix}.json with
// hex identifiers lowercased.
type ObjectRef struct {
	BatchHash common.Hash
	Provider  common.Address
	CreatedAt time.Time
	Suffix    string
}

// NewObjectRef builds a ref with a fresh random suffix. The suffix
// disambiguates multiple submissions landing on the same millisecond.
func NewObjectRef(batchHash common.Hash, provider common.Address, createdAt time.Time) (ObjectRef, error) {
	var b [6]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return ObjectRef{}, fmt.Errorf("store: suffix: %w", err)
	}
	return ObjectRef{
		BatchHash: batchHash,
		Provider:  provider,
		CreatedAt: createdAt,
		Suffix:    hex.EncodeToString(b[:]),
	}, nil
}

// Key returns the object key.
func (r ObjectRef) Key() string {
	return fmt.Sprintf("%s/%s/%d-%s.json",
		r.BatchHash.Hex(),
		strings.ToLower(r.Provider.Hex()),
		r.CreatedAt.UnixMilli(),
		r.Suffix,
	)
}

// Metadata describes a stored envelope without its ciphertext.
type Metadata struct {
	Key            string
	BatchHash      common.Hash
	Provider       common.Address
	CreatedAt      time.Time
	CiphertextHash common.Hash
	Size           int
}

// EnvelopeStore is the append-only envelope store. Implementations must
// reject overwrites; envelopes already written stay untouched until an
// operational retention sweep long after finalization.
type EnvelopeStore interface {
	// Put stores an envelope under ref's key, returning its metadata.
	Put(ctx context.Context, ref ObjectRef, env *envelope.EnvelopeV1) (*Metadata, error)

	// Get fetches an envelope by key.
	Get(ctx context.Context, key string) (*envelope.EnvelopeV1, error)

	// ListByBatch returns metadata for all envelopes of a batch, ordered
	// by provider and creation time.
	ListByBatch(ctx context.Context, batchHash common.Hash) ([]*Metadata, error)

	// ListByBatchProvider returns metadata for one provider's envelopes
	// in a batch, ordered by creation time.
	ListByBatchProvider(ctx context.Context, batchHash common.Hash, provider common.Address) ([]*Metadata, error)
}
