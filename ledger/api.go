// Package ledger defines the interface to the system of record for
// batches and commitments. The ledger is external and is the sole
// arbiter of commit/reveal/join ordering and phase enforcement; this
// package only mirrors its surface and phase semantics.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/volarelabs/flightcast/forecast/commitment"
)

var (
	// ErrNotFound is returned when a batch, provider or commit does not exist.
	ErrNotFound = errors.New("ledger: not found")
	// ErrWrongPhase is returned when an operation is attempted outside
	// its allowed phase.
	ErrWrongPhase = errors.New("ledger: wrong phase")
	// ErrNotFunded is returned when operating on an unfunded batch.
	ErrNotFunded = errors.New("ledger: batch not funded")
	// ErrAlreadyJoined is returned on a duplicate join.
	ErrAlreadyJoined = errors.New("ledger: provider already joined")
	// ErrNotJoined is returned when a provider acts without a posted bond.
	ErrNotJoined = errors.New("ledger: provider has not joined")
	// ErrAlreadyRevealed is returned when an index reveals twice.
	ErrAlreadyRevealed = errors.New("ledger: commit already revealed")
	// ErrRevealMismatch is returned when a revealed (root, salt) does not
	// reproduce the stored commit hash. The slot is not consumed; the
	// provider may retry with correct values.
	ErrRevealMismatch = errors.New("ledger: reveal does not match commitment")
	// ErrRandomnessNotLocked is returned when revealing a seed before
	// locking randomness.
	ErrRandomnessNotLocked = errors.New("ledger: randomness not locked")
	// ErrSeedNotRevealed is returned when selection is requested before
	// the seed reveal.
	ErrSeedNotRevealed = errors.New("ledger: seed not revealed")
	// ErrSeedAlreadyRevealed is returned on a duplicate seed reveal.
	ErrSeedAlreadyRevealed = errors.New("ledger: seed already revealed")
	// ErrAlreadyFinalized is returned when finalizing a finalized batch.
	ErrAlreadyFinalized = errors.New("ledger: batch already finalized")
)

// Phase is a batch's lifecycle phase, derived from its window bounds and
// ledger-tracked flags.
type Phase uint8

const (
	PhasePrewindow Phase = iota
	PhaseCommit
	PhaseReveal
	PhasePostreveal
	PhaseFinalized
)

// String returns the string representation of a Phase.
func (p Phase) String() string {
	switch p {
	case PhasePrewindow:
		return "prewindow"
	case PhaseCommit:
		return "commit"
	case PhaseReveal:
		return "reveal"
	case PhasePostreveal:
		return "postreveal"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Batch is the ledger's view of a forecast batch.
type Batch struct {
	ID             string
	Hash           common.Hash
	Operator       common.Address
	Funder         common.Address
	WindowStart    time.Time
	WindowEnd      time.Time
	RevealDeadline time.Time
	SeedRevealed   bool
	Funded         bool
	Finalized      bool
	Bounty         uint64
	JoinBond       uint64
}

// PhaseAt derives the batch phase at time t. Finalization is a terminal
// explicit transition and dominates the window-derived phases.
func (b *Batch) PhaseAt(t time.Time) Phase {
	switch {
	case b.Finalized:
		return PhaseFinalized
	case t.Before(b.WindowStart):
		return PhasePrewindow
	case t.Before(b.WindowEnd):
		return PhaseCommit
	case !t.After(b.RevealDeadline):
		return PhaseReveal
	default:
		return PhasePostreveal
	}
}

// Commitment is one on-ledger commitment row: (batch, provider, index).
// CommitHash is immutable once posted; root and salt are only populated
// after a successful reveal.
type Commitment struct {
	Index            uint64
	CommitHash       common.Hash
	EncryptedURIHash common.Hash
	CommittedAt      time.Time
	Revealed         bool
	Root             common.Hash
	Salt             commitment.Salt
	PublicURIHash    common.Hash
}

// Reveal is one element of a reveal submission.
type Reveal struct {
	Index         uint64
	Root          common.Hash
	Salt          commitment.Salt
	PublicURIHash common.Hash
}

// ProviderSummary is the read-only per-provider view of a batch.
type ProviderSummary struct {
	Provider      common.Address
	Joined        bool
	CommitCount   uint64
	RevealedCount uint64
}

// Client is the ledger surface the protocol core consumes. Provider
// identity is explicit in the signature; an on-chain implementation must
// reject a provider argument that does not match its transaction signer.
type Client interface {
	GetBatch(ctx context.Context, batchHash common.Hash) (*Batch, error)

	// Join posts the join bond. Allowed any time before postreveal.
	Join(ctx context.Context, batchHash common.Hash, provider common.Address) error

	// Commit posts a commitment during the commit window and returns its
	// monotonically increasing per-provider index.
	Commit(ctx context.Context, batchHash common.Hash, provider common.Address, commitHash, encryptedURIHash common.Hash) (uint64, error)

	// RevealCommits reveals the given indices during the reveal window.
	RevealCommits(ctx context.Context, batchHash common.Hash, provider common.Address, reveals []Reveal) error

	// LockRandomness fixes the randomness reference point. Must precede
	// RevealSeed; the two-step split prevents adaptive seed choice after
	// observing provider behavior.
	LockRandomness(ctx context.Context, batchHash common.Hash) error

	// RevealSeed discloses the selection seed.
	RevealSeed(ctx context.Context, batchHash common.Hash, seed common.Hash) error

	GetCommitCount(ctx context.Context, batchHash common.Hash, provider common.Address) (uint64, error)
	GetCommit(ctx context.Context, batchHash common.Hash, provider common.Address, index uint64) (*Commitment, error)
	GetSelectedCommitIndex(ctx context.Context, batchHash common.Hash, provider common.Address) (uint64, error)
	GetProviderSummary(ctx context.Context, batchHash common.Hash, provider common.Address) (*ProviderSummary, error)

	// ListProviders enumerates providers that have joined the batch, in
	// join order.
	ListProviders(ctx context.Context, batchHash common.Hash) ([]common.Address, error)

	// Finalize performs the one-shot finalize transition. Valid from
	// postreveal once a seed is revealed; a second call must fail.
	Finalize(ctx context.Context, batchHash common.Hash, providers []common.Address, payouts []uint64, selectedIndices []uint64, scoresHash common.Hash) error
}
