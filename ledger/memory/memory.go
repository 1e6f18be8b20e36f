// Package memory implements the ledger interface fully in process. It
// enforces the same phase machine as the on-chain program and serves as
// the ledger for tests and local development. A single mutex plays the
// role of the chain's global sequencer.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/volarelabs/flightcast/forecast/commitment"
	"github.com/volarelabs/flightcast/forecast/selector"
	"github.com/volarelabs/flightcast/ledger"
)

type batchState struct {
	batch ledger.Batch

	randomnessLocked bool
	seed             common.Hash

	joinOrder []common.Address
	joined    map[common.Address]bool
	commits   map[common.Address][]*ledger.Commitment

	finalized *finalization
}

type finalization struct {
	providers       []common.Address
	payouts         []uint64
	selectedIndices []uint64
	scoresHash      common.Hash
}

// Ledger is an in-memory ledger.
type Ledger struct {
	mu      sync.Mutex
	batches map[common.Hash]*batchState
	now     func() time.Time
}

var _ ledger.Client = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source, letting tests drive the phase
// machine deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates an empty in-memory ledger.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		batches: make(map[common.Hash]*batchState),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateBatch registers a batch. This models the operator's off-ledger
// batch creation being hash-bound and funded on-ledger; it is not part
// of the ledger.Client surface.
func (l *Ledger) CreateBatch(b ledger.Batch) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.batches[b.Hash]; ok {
		return fmt.Errorf("ledger: batch %s already exists", b.Hash.Hex())
	}
	if !b.WindowStart.Before(b.WindowEnd) || b.RevealDeadline.Before(b.WindowEnd) {
		return fmt.Errorf("ledger: batch %s has malformed window bounds", b.Hash.Hex())
	}
	b.SeedRevealed = false
	b.Finalized = false
	l.batches[b.Hash] = &batchState{
		batch:   b,
		joined:  make(map[common.Address]bool),
		commits: make(map[common.Address][]*ledger.Commitment),
	}
	return nil
}

func (l *Ledger) get(batchHash common.Hash) (*batchState, error) {
	st, ok := l.batches[batchHash]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return st, nil
}

// GetBatch implements ledger.Client.
func (l *Ledger) GetBatch(_ context.Context, batchHash common.Hash) (*ledger.Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.get(batchHash)
	if err != nil {
		return nil, err
	}
	b := st.batch
	return &b, nil
}

// Join implements ledger.Client.
func (l *Ledger) Join(_ context.Context, batchHash common.Hash, provider common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.get(batchHash)
	if err != nil {
		return err
	}
	if !st.batch.Funded {
		return ledger.ErrNotFunded
	}
	if phase := st.batch.PhaseAt(l.now()); phase >= ledger.PhasePostreveal {
		return fmt.Errorf("%w: join in %s", ledger.ErrWrongPhase, phase)
	}
	if st.joined[provider] {
		return ledger.ErrAlreadyJoined
	}
	st.joined[provider] = true
	st.joinOrder = append(st.joinOrder, provider)
	return nil
}

// Commit implements ledger.Client.
func (l *Ledger) Commit(_ context.Context, batchHash common.Hash, provider common.Address, commitHash, encryptedURIHash common.Hash) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.get(batchHash)
	if err != nil {
		return 0, err
	}
	if phase := st.batch.PhaseAt(l.now()); phase != ledger.PhaseCommit {
		return 0, fmt.Errorf("%w: commit in %s", ledger.ErrWrongPhase, phase)
	}
	if !st.joined[provider] {
		return 0, ledger.ErrNotJoined
	}
	index := uint64(len(st.commits[provider]))
	st.commits[provider] = append(st.commits[provider], &ledger.Commitment{
		Index:            index,
		CommitHash:       commitHash,
		EncryptedURIHash: encryptedURIHash,
		CommittedAt:      l.now(),
	})
	return index, nil
}

// RevealCommits implements ledger.Client. A mismatched (root, salt)
// rejects that reveal and leaves the slot unrevealed so the provider can
// retry with correct values; reveals preceding the bad one stay applied,
// mirroring the per-entry processing of the on-chain program.
func (l *Ledger) RevealCommits(_ context.Context, batchHash common.Hash, provider common.Address, reveals []ledger.Reveal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.get(batchHash)
	if err != nil {
		return err
	}
	if phase := st.batch.PhaseAt(l.now()); phase != ledger.PhaseReveal {
		return fmt.Errorf("%w: reveal in %s", ledger.ErrWrongPhase, phase)
	}
	commits := st.commits[provider]
	for _, r := range reveals {
		if r.Index >= uint64(len(commits)) {
			return fmt.Errorf("%w: commit index %d", ledger.ErrNotFound, r.Index)
		}
		c := commits[r.Index]
		if c.Revealed {
			return fmt.Errorf("%w: index %d", ledger.ErrAlreadyRevealed, r.Index)
		}
		if !commitment.Verify(batchHash, r.Root, r.Salt, c.CommitHash) {
			return fmt.Errorf("%w: index %d", ledger.ErrRevealMismatch, r.Index)
		}
		c.Revealed = true
		c.Root = r.Root
		c.Salt = r.Salt
		c.PublicURIHash = r.PublicURIHash
	}
	return nil
}

// LockRandomness implements ledger.Client. Allowed once the commit
// window has closed.
func (l *Ledger) LockRandomness(_ context.Context, batchHash common.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.get(batchHash)
	if err != nil {
		return err
	}
	if phase := st.batch.PhaseAt(l.now()); phase < ledger.PhaseReveal || phase == ledger.PhaseFinalized {
		return fmt.Errorf("%w: lock randomness in %s", ledger.ErrWrongPhase, phase)
	}
	st.randomnessLocked = true
	return nil
}

// RevealSeed implements ledger.Client.
func (l *Ledger) RevealSeed(_ context.Context, batchHash common.Hash, seed common.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.get(batchHash)
	if err != nil {
		return err
	}
	if phase := st.batch.PhaseAt(l.now()); phase < ledger.PhaseReveal || phase == ledger.PhaseFinalized {
		return fmt.Errorf("%w: reveal seed in %s", ledger.ErrWrongPhase, phase)
	}
	if !st.randomnessLocked {
		return ledger.ErrRandomnessNotLocked
	}
	if st.batch.SeedRevealed {
		return ledger.ErrSeedAlreadyRevealed
	}
	st.batch.SeedRevealed = true
	st.seed = seed
	return nil
}

// GetCommitCount implements ledger.Client.
func (l *Ledger) GetCommitCount(_ context.Context, batchHash common.Hash, provider common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.get(batchHash)
	if err != nil {
		return 0, err
	}
	return uint64(len(st.commits[provider])), nil
}

// GetCommit implements ledger.Client.
func (l *Ledger) GetCommit(_ context.Context, batchHash common.Hash, provider common.Address, index uint64) (*ledger.Commitment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.get(batchHash)
	if err != nil {
		return nil, err
	}
	commits := st.commits[provider]
	if index >= uint64(len(commits)) {
		return nil, ledger.ErrNotFound
	}
	c := *commits[index]
	return &c, nil
}

// GetSelectedCommitIndex implements ledger.Client. Defined only once the
// seed is revealed and the provider has at least one commit.
func (l *Ledger) GetSelectedCommitIndex(_ context.Context, batchHash common.Hash, provider common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.get(batchHash)
	if err != nil {
		return 0, err
	}
	if !st.batch.SeedRevealed {
		return 0, ledger.ErrSeedNotRevealed
	}
	return selector.SelectedIndex(st.seed, provider, uint64(len(st.commits[provider])))
}

// GetProviderSummary implements ledger.Client.
func (l *Ledger) GetProviderSummary(_ context.Context, batchHash common.Hash, provider common.Address) (*ledger.ProviderSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.get(batchHash)
	if err != nil {
		return nil, err
	}
	summary := &ledger.ProviderSummary{
		Provider:    provider,
		Joined:      st.joined[provider],
		CommitCount: uint64(len(st.commits[provider])),
	}
	for _, c := range st.commits[provider] {
		if c.Revealed {
			summary.RevealedCount++
		}
	}
	return summary, nil
}

// ListProviders implements ledger.Client.
func (l *Ledger) ListProviders(_ context.Context, batchHash common.Hash) ([]common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.get(batchHash)
	if err != nil {
		return nil, err
	}
	out := make([]common.Address, len(st.joinOrder))
	copy(out, st.joinOrder)
	return out, nil
}

// Finalize implements ledger.Client. One-shot: a second call on an
// already-finalized batch fails without recomputing or re-paying.
func (l *Ledger) Finalize(_ context.Context, batchHash common.Hash, providers []common.Address, payouts []uint64, selectedIndices []uint64, scoresHash common.Hash) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.get(batchHash)
	if err != nil {
		return err
	}
	if st.batch.Finalized {
		return ledger.ErrAlreadyFinalized
	}
	if phase := st.batch.PhaseAt(l.now()); phase != ledger.PhasePostreveal {
		return fmt.Errorf("%w: finalize in %s", ledger.ErrWrongPhase, phase)
	}
	if !st.batch.SeedRevealed {
		return ledger.ErrSeedNotRevealed
	}
	if !st.batch.Funded {
		return ledger.ErrNotFunded
	}
	if len(providers) == 0 || len(payouts) != len(providers) || len(selectedIndices) != len(providers) {
		return fmt.Errorf("ledger: finalize arrays malformed: %d providers, %d payouts, %d indices",
			len(providers), len(payouts), len(selectedIndices))
	}
	var sum uint64
	for _, p := range payouts {
		sum += p
	}
	if sum != st.batch.Bounty {
		return fmt.Errorf("ledger: payouts sum %d != bounty %d", sum, st.batch.Bounty)
	}

	st.batch.Finalized = true
	st.finalized = &finalization{
		providers:       append([]common.Address(nil), providers...),
		payouts:         append([]uint64(nil), payouts...),
		selectedIndices: append([]uint64(nil), selectedIndices...),
		scoresHash:      scoresHash,
	}
	return nil
}

// Finalization returns the recorded payout set, for observers auditing
// the split.
func (l *Ledger) Finalization(batchHash common.Hash) ([]common.Address, []uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.get(batchHash)
	if err != nil {
		return nil, nil, err
	}
	if st.finalized == nil {
		return nil, nil, ledger.ErrNotFound
	}
	providers := append([]common.Address(nil), st.finalized.providers...)
	payouts := append([]uint64(nil), st.finalized.payouts...)
	return providers, payouts, nil
}

// Seed returns the revealed seed, for observers recomputing selection.
func (l *Ledger) Seed(batchHash common.Hash) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.get(batchHash)
	if err != nil {
		return common.Hash{}, err
	}
	if !st.batch.SeedRevealed {
		return common.Hash{}, ledger.ErrSeedNotRevealed
	}
	return st.seed, nil
}
