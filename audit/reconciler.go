// Package audit joins the ledger's authoritative commitments with
// off-ledger envelope metadata into a public timeline. The join is
// read-only and recomputable by anyone; the ledger decides what exists,
// the store only supplies content.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/volarelabs/flightcast/ledger"
	"github.com/volarelabs/flightcast/log"
	"github.com/volarelabs/flightcast/store"
)

const moduleName = "audit"

// Availability says whether a commitment's envelope could be located
// off-ledger.
type Availability string

const (
	// Available means the envelope object was matched.
	Available Availability = "available"
	// Unavailable means no off-ledger object matched the commitment.
	// Such rows are rendered, never silently omitted.
	Unavailable Availability = "unavailable"
)

// Row is one commitment in the public timeline.
type Row struct {
	Provider         common.Address `json:"provider"`
	Index            uint64         `json:"index"`
	CommitHash       common.Hash    `json:"commit_hash"`
	CommittedAt      time.Time      `json:"committed_at"`
	Revealed         bool           `json:"revealed"`
	EncryptedURIHash common.Hash    `json:"encrypted_uri_hash"`
	Availability     Availability   `json:"availability"`
	ObjectKey        string         `json:"object_key,omitempty"`
	StoredAt         *time.Time     `json:"stored_at,omitempty"`
}

// Timeline is the reconciled view of one batch.
type Timeline struct {
	BatchHash   common.Hash  `json:"batch_hash"`
	Phase       ledger.Phase `json:"-"`
	PhaseName   string       `json:"phase"`
	Rows        []Row        `json:"rows"`
	Unavailable int          `json:"unavailable"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Reconciler builds audit timelines.
type Reconciler struct {
	ledger ledger.Client
	store  store.EnvelopeStore
	logger *log.Logger
	now    func() time.Time
}

// NewReconciler creates a reconciler over a ledger and an envelope store.
func NewReconciler(lc ledger.Client, es store.EnvelopeStore, logger *log.Logger) *Reconciler {
	return &Reconciler{
		ledger: lc,
		store:  es,
		logger: logger.WithModule(moduleName),
		now:    time.Now,
	}
}

// WithClock overrides the time source for tests.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// Timeline reconciles one batch. Commitments are matched to envelope
// objects primarily by (provider, ciphertext hash); rows predating the
// encryptedUriHash binding fall back to a positional match on the
// provider's objects in creation order. A commitment with no match is
// rendered as unavailable.
func (r *Reconciler) Timeline(ctx context.Context, batchHash common.Hash) (*Timeline, error) {
	batch, err := r.ledger.GetBatch(ctx, batchHash)
	if err != nil {
		return nil, fmt.Errorf("audit: get batch: %w", err)
	}
	providers, err := r.ledger.ListProviders(ctx, batchHash)
	if err != nil {
		return nil, fmt.Errorf("audit: list providers: %w", err)
	}

	metas, err := r.store.ListByBatch(ctx, batchHash)
	if err != nil {
		// The store being down must not hide the ledger's rows; degrade
		// to an all-unavailable timeline.
		r.logger.Warn("envelope store unavailable during reconciliation",
			"batch", batchHash.Hex(),
			"err", err,
		)
		metas = nil
	}

	byProvider := make(map[common.Address][]*store.Metadata)
	for _, m := range metas {
		byProvider[m.Provider] = append(byProvider[m.Provider], m)
	}

	phase := batch.PhaseAt(r.now())
	timeline := &Timeline{
		BatchHash:   batchHash,
		Phase:       phase,
		PhaseName:   phase.String(),
		GeneratedAt: r.now().UTC(),
	}

	for _, provider := range providers {
		count, err := r.ledger.GetCommitCount(ctx, batchHash, provider)
		if err != nil {
			return nil, fmt.Errorf("audit: commit count for %s: %w", provider.Hex(), err)
		}
		objects := byProvider[provider]
		claimed := make([]bool, len(objects))

		for index := uint64(0); index < count; index++ {
			c, err := r.ledger.GetCommit(ctx, batchHash, provider, index)
			if err != nil {
				return nil, fmt.Errorf("audit: commit %d for %s: %w", index, provider.Hex(), err)
			}
			row := Row{
				Provider:         provider,
				Index:            index,
				CommitHash:       c.CommitHash,
				CommittedAt:      c.CommittedAt,
				Revealed:         c.Revealed,
				EncryptedURIHash: c.EncryptedURIHash,
				Availability:     Unavailable,
			}
			if m := matchObject(c, objects, claimed); m != nil {
				row.Availability = Available
				row.ObjectKey = m.Key
				storedAt := m.CreatedAt
				row.StoredAt = &storedAt
			} else {
				timeline.Unavailable++
			}
			timeline.Rows = append(timeline.Rows, row)
		}
	}

	if timeline.Unavailable > 0 {
		r.logger.Warn("timeline has commitments without envelopes",
			"batch", batchHash.Hex(),
			"unavailable", timeline.Unavailable,
			"rows", len(timeline.Rows),
		)
	}
	return timeline, nil
}

// matchObject finds the envelope object for a commitment. Primary match
// is the ciphertext hash bound on-ledger; legacy commitments with a zero
// encryptedUriHash take the next unclaimed object in creation order.
func matchObject(c *ledger.Commitment, objects []*store.Metadata, claimed []bool) *store.Metadata {
	if c.EncryptedURIHash != (common.Hash{}) {
		for i, m := range objects {
			if !claimed[i] && m.CiphertextHash == c.EncryptedURIHash {
				claimed[i] = true
				return m
			}
		}
		return nil
	}
	for i, m := range objects {
		if !claimed[i] {
			claimed[i] = true
			return m
		}
	}
	return nil
}
