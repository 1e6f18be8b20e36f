// Package submit orchestrates the submission and reveal pipeline:
// canonicalize, encrypt, store the envelope off-ledger, then anchor the
// commitment on-ledger. The two writes share no transaction; the ledger
// write comes last, and an envelope orphaned by a failed ledger write is
// harmless and tolerated.
package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/volarelabs/flightcast/forecast/canonical"
	"github.com/volarelabs/flightcast/forecast/commitment"
	"github.com/volarelabs/flightcast/forecast/envelope"
	"github.com/volarelabs/flightcast/forecast/selector"
	"github.com/volarelabs/flightcast/ledger"
	"github.com/volarelabs/flightcast/log"
	"github.com/volarelabs/flightcast/store"
)

const moduleName = "submit"

// ErrRevealMismatch is returned when a reveal request does not reproduce
// the on-ledger commit hash. The check runs locally before anything is
// sent to the ledger, so the commit slot is untouched and the provider
// can retry with correct values.
var ErrRevealMismatch = errors.New("submit: reveal does not match commitment")

// Pipeline runs submissions end to end. It is stateless; every call is
// an independent request/response.
type Pipeline struct {
	ledger ledger.Client
	store  store.EnvelopeStore
	keys   envelope.KeyProvider
	logger *log.Logger
	now    func() time.Time
}

// NewPipeline creates a submission pipeline.
func NewPipeline(lc ledger.Client, es store.EnvelopeStore, keys envelope.KeyProvider, logger *log.Logger) *Pipeline {
	return &Pipeline{
		ledger: lc,
		store:  es,
		keys:   keys,
		logger: logger.WithModule(moduleName),
		now:    time.Now,
	}
}

// WithClock overrides the time source for tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Receipt is returned to the provider after a successful submission.
// Root and salt are the provider's reveal material; they are never
// persisted server-side.
type Receipt struct {
	Index            uint64          `json:"index"`
	CommitHash       common.Hash     `json:"commit_hash"`
	Root             common.Hash     `json:"root"`
	Salt             commitment.Salt `json:"-"`
	SaltHex          string          `json:"salt"`
	ObjectKey        string          `json:"object_key"`
	EncryptedURIHash common.Hash     `json:"encrypted_uri_hash"`
}

// Submit runs the strict pipeline order: canonicalize → encrypt → store
// envelope → derive content hash → submit commitment.
func (p *Pipeline) Submit(ctx context.Context, batchHash common.Hash, provider common.Address, entries []canonical.Entry) (*Receipt, error) {
	canonicalBytes, err := canonical.Canonicalize(entries)
	if err != nil {
		return nil, err
	}

	root := commitment.Root(canonicalBytes)
	salt, err := commitment.NewSalt()
	if err != nil {
		return nil, err
	}
	commitHash := commitment.CommitHash(batchHash, root, salt)

	key, err := p.keys.MasterKey()
	if err != nil {
		return nil, err
	}
	env, err := envelope.Seal(key, canonicalBytes)
	if err != nil {
		return nil, err
	}

	ref, err := store.NewObjectRef(batchHash, provider, p.now())
	if err != nil {
		return nil, err
	}
	meta, err := p.store.Put(ctx, ref, env)
	if err != nil {
		return nil, fmt.Errorf("submit: store envelope: %w", err)
	}

	index, err := p.ledger.Commit(ctx, batchHash, provider, commitHash, meta.CiphertextHash)
	if err != nil {
		// The stored envelope is now an orphan. That is fine: the
		// ledger is authoritative for existence, and the reconciler
		// ignores objects with no matching commitment.
		p.logger.Warn("ledger commit failed after envelope store; envelope orphaned",
			"batch", batchHash.Hex(),
			"provider", provider.Hex(),
			"object_key", meta.Key,
			"err", err,
		)
		return nil, fmt.Errorf("submit: ledger commit: %w", err)
	}

	p.logger.Info("submission committed",
		"batch", batchHash.Hex(),
		"provider", provider.Hex(),
		"index", index,
		"object_key", meta.Key,
	)
	return &Receipt{
		Index:            index,
		CommitHash:       commitHash,
		Root:             root,
		Salt:             salt,
		SaltHex:          salt.Hex(),
		ObjectKey:        meta.Key,
		EncryptedURIHash: meta.CiphertextHash,
	}, nil
}

// RevealRequest is one commit index with its reveal material.
type RevealRequest struct {
	Index         uint64
	Root          common.Hash
	Salt          commitment.Salt
	PublicURIHash common.Hash
}

// Reveal verifies each (root, salt) against the on-ledger commit hash
// locally, then submits the reveal. Local verification keeps obviously
// doomed reveals off the ledger; the ledger re-verifies regardless.
func (p *Pipeline) Reveal(ctx context.Context, batchHash common.Hash, provider common.Address, reqs []RevealRequest) error {
	reveals := make([]ledger.Reveal, len(reqs))
	for i, r := range reqs {
		c, err := p.ledger.GetCommit(ctx, batchHash, provider, r.Index)
		if err != nil {
			return fmt.Errorf("submit: fetch commit %d: %w", r.Index, err)
		}
		if !commitment.Verify(batchHash, r.Root, r.Salt, c.CommitHash) {
			return fmt.Errorf("%w: index %d", ErrRevealMismatch, r.Index)
		}
		reveals[i] = ledger.Reveal{
			Index:         r.Index,
			Root:          r.Root,
			Salt:          r.Salt,
			PublicURIHash: r.PublicURIHash,
		}
	}
	if err := p.ledger.RevealCommits(ctx, batchHash, provider, reveals); err != nil {
		return fmt.Errorf("submit: ledger reveal: %w", err)
	}
	return nil
}

// Latest returns the provider's most recent commitment. This is the
// display-only view; it never decides payouts.
func (p *Pipeline) Latest(ctx context.Context, batchHash common.Hash, provider common.Address) (*ledger.Commitment, error) {
	count, err := p.ledger.GetCommitCount(ctx, batchHash, provider)
	if err != nil {
		return nil, err
	}
	index, err := selector.LatestIndex(count)
	if err != nil {
		return nil, err
	}
	return p.ledger.GetCommit(ctx, batchHash, provider, index)
}

// Selected returns the seed-selected commitment for scoring. Defined
// only after the seed reveal.
func (p *Pipeline) Selected(ctx context.Context, batchHash common.Hash, provider common.Address) (*ledger.Commitment, error) {
	index, err := p.ledger.GetSelectedCommitIndex(ctx, batchHash, provider)
	if err != nil {
		return nil, err
	}
	return p.ledger.GetCommit(ctx, batchHash, provider, index)
}
