package memory

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/volarelabs/flightcast/forecast/commitment"
	"github.com/volarelabs/flightcast/ledger"
)

var (
	windowStart    = time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	windowEnd      = windowStart.Add(48 * time.Hour)
	revealDeadline = windowEnd.Add(24 * time.Hour)

	provider = common.HexToAddress("0x8ba1f109551bD432803012645Ac136ddd64DBa72")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func newTestLedger(t *testing.T) (*Ledger, *testClock, common.Hash) {
	t.Helper()
	clock := &testClock{t: windowStart.Add(-time.Hour)}
	l := NewLedger(WithClock(clock.now))

	batchHash := crypto.Keccak256Hash([]byte("test-batch"))
	require.NoError(t, l.CreateBatch(ledger.Batch{
		ID:             "test-batch",
		Hash:           batchHash,
		Operator:       operator,
		Funder:         operator,
		WindowStart:    windowStart,
		WindowEnd:      windowEnd,
		RevealDeadline: revealDeadline,
		Funded:         true,
		Bounty:         100_000_000,
		JoinBond:       1_000_000,
	}))
	return l, clock, batchHash
}

func mustCommit(t *testing.T, l *Ledger, batchHash common.Hash, p common.Address, payload string) (uint64, common.Hash, commitment.Salt) {
	t.Helper()
	root := commitment.Root([]byte(payload))
	salt, err := commitment.NewSalt()
	require.NoError(t, err)
	ch := commitment.CommitHash(batchHash, root, salt)
	idx, err := l.Commit(context.Background(), batchHash, p, ch, crypto.Keccak256Hash([]byte(payload+"-ct")))
	require.NoError(t, err)
	return idx, root, salt
}

func TestPhaseAt(t *testing.T) {
	b := ledger.Batch{
		WindowStart:    windowStart,
		WindowEnd:      windowEnd,
		RevealDeadline: revealDeadline,
	}
	require.Equal(t, ledger.PhasePrewindow, b.PhaseAt(windowStart.Add(-time.Second)))
	require.Equal(t, ledger.PhaseCommit, b.PhaseAt(windowStart))
	require.Equal(t, ledger.PhaseCommit, b.PhaseAt(windowEnd.Add(-time.Second)))
	require.Equal(t, ledger.PhaseReveal, b.PhaseAt(windowEnd))
	require.Equal(t, ledger.PhaseReveal, b.PhaseAt(revealDeadline))
	require.Equal(t, ledger.PhasePostreveal, b.PhaseAt(revealDeadline.Add(time.Second)))

	b.Finalized = true
	require.Equal(t, ledger.PhaseFinalized, b.PhaseAt(windowStart))
}

func TestCommitPhaseGating(t *testing.T) {
	ctx := context.Background()
	l, clock, batchHash := newTestLedger(t)

	// Join is allowed prewindow.
	require.NoError(t, l.Join(ctx, batchHash, provider))
	require.ErrorIs(t, l.Join(ctx, batchHash, provider), ledger.ErrAlreadyJoined)

	// Commit rejected before the window opens.
	_, err := l.Commit(ctx, batchHash, provider, common.Hash{1}, common.Hash{2})
	require.ErrorIs(t, err, ledger.ErrWrongPhase)

	clock.t = windowStart.Add(time.Hour)
	idx, err := l.Commit(ctx, batchHash, provider, common.Hash{1}, common.Hash{2})
	require.NoError(t, err)
	require.Equal(t, uint64(0), idx)

	idx, err = l.Commit(ctx, batchHash, provider, common.Hash{3}, common.Hash{4})
	require.NoError(t, err)
	require.Equal(t, uint64(1), idx)

	// Commit rejected once the window closes.
	clock.t = windowEnd
	_, err = l.Commit(ctx, batchHash, provider, common.Hash{5}, common.Hash{6})
	require.ErrorIs(t, err, ledger.ErrWrongPhase)
}

func TestCommitRequiresJoin(t *testing.T) {
	ctx := context.Background()
	l, clock, batchHash := newTestLedger(t)
	clock.t = windowStart.Add(time.Hour)

	_, err := l.Commit(ctx, batchHash, provider, common.Hash{1}, common.Hash{2})
	require.ErrorIs(t, err, ledger.ErrNotJoined)
}

func TestJoinGating(t *testing.T) {
	ctx := context.Background()
	l, clock, batchHash := newTestLedger(t)

	// Join is allowed during reveal, but not after the deadline.
	clock.t = windowEnd.Add(time.Hour)
	require.NoError(t, l.Join(ctx, batchHash, provider))

	other := common.HexToAddress("0x0000000000000000000000000000000000000099")
	clock.t = revealDeadline.Add(time.Hour)
	require.ErrorIs(t, l.Join(ctx, batchHash, other), ledger.ErrWrongPhase)
}

func TestRevealFlow(t *testing.T) {
	ctx := context.Background()
	l, clock, batchHash := newTestLedger(t)

	require.NoError(t, l.Join(ctx, batchHash, provider))
	clock.t = windowStart.Add(time.Hour)
	idx, root, salt := mustCommit(t, l, batchHash, provider, "payload-0")

	// Reveal rejected during the commit window.
	err := l.RevealCommits(ctx, batchHash, provider, []ledger.Reveal{{Index: idx, Root: root, Salt: salt}})
	require.ErrorIs(t, err, ledger.ErrWrongPhase)

	clock.t = windowEnd.Add(time.Hour)

	// A mismatched salt is rejected and does not consume the slot.
	badSalt, err2 := commitment.NewSalt()
	require.NoError(t, err2)
	err = l.RevealCommits(ctx, batchHash, provider, []ledger.Reveal{{Index: idx, Root: root, Salt: badSalt}})
	require.ErrorIs(t, err, ledger.ErrRevealMismatch)

	// Retry with the correct values succeeds.
	require.NoError(t, l.RevealCommits(ctx, batchHash, provider, []ledger.Reveal{{Index: idx, Root: root, Salt: salt}}))

	// A given index reveals at most once.
	err = l.RevealCommits(ctx, batchHash, provider, []ledger.Reveal{{Index: idx, Root: root, Salt: salt}})
	require.ErrorIs(t, err, ledger.ErrAlreadyRevealed)

	c, err := l.GetCommit(ctx, batchHash, provider, idx)
	require.NoError(t, err)
	require.True(t, c.Revealed)
	require.Equal(t, root, c.Root)
	require.Equal(t, salt, c.Salt)
}

func TestSeedFlow(t *testing.T) {
	ctx := context.Background()
	l, clock, batchHash := newTestLedger(t)
	seed := crypto.Keccak256Hash([]byte("seed"))

	require.NoError(t, l.Join(ctx, batchHash, provider))
	clock.t = windowStart.Add(time.Hour)
	mustCommit(t, l, batchHash, provider, "payload-0")

	// Neither lock nor reveal is allowed during the commit window.
	require.ErrorIs(t, l.LockRandomness(ctx, batchHash), ledger.ErrWrongPhase)
	require.ErrorIs(t, l.RevealSeed(ctx, batchHash, seed), ledger.ErrWrongPhase)

	clock.t = windowEnd.Add(time.Hour)

	// Seed reveal requires locked randomness first.
	require.ErrorIs(t, l.RevealSeed(ctx, batchHash, seed), ledger.ErrRandomnessNotLocked)

	// Selection is undefined before the seed reveal.
	_, err := l.GetSelectedCommitIndex(ctx, batchHash, provider)
	require.ErrorIs(t, err, ledger.ErrSeedNotRevealed)

	require.NoError(t, l.LockRandomness(ctx, batchHash))
	require.NoError(t, l.RevealSeed(ctx, batchHash, seed))
	require.ErrorIs(t, l.RevealSeed(ctx, batchHash, seed), ledger.ErrSeedAlreadyRevealed)

	idx, err := l.GetSelectedCommitIndex(ctx, batchHash, provider)
	require.NoError(t, err)
	require.Equal(t, uint64(0), idx)

	got, err := l.Seed(batchHash)
	require.NoError(t, err)
	require.Equal(t, seed, got)
}

func TestFinalizeTerminality(t *testing.T) {
	ctx := context.Background()
	l, clock, batchHash := newTestLedger(t)
	seed := crypto.Keccak256Hash([]byte("seed"))

	require.NoError(t, l.Join(ctx, batchHash, provider))
	clock.t = windowStart.Add(time.Hour)
	mustCommit(t, l, batchHash, provider, "payload-0")

	clock.t = windowEnd.Add(time.Hour)
	require.NoError(t, l.LockRandomness(ctx, batchHash))
	require.NoError(t, l.RevealSeed(ctx, batchHash, seed))

	providers := []common.Address{provider}
	payouts := []uint64{100_000_000}
	indices := []uint64{0}
	scoresHash := crypto.Keccak256Hash([]byte("scores"))

	// Finalize rejected before the reveal deadline passes.
	require.ErrorIs(t, l.Finalize(ctx, batchHash, providers, payouts, indices, scoresHash), ledger.ErrWrongPhase)

	clock.t = revealDeadline.Add(time.Hour)

	// Payouts must conserve the bounty exactly.
	require.Error(t, l.Finalize(ctx, batchHash, providers, []uint64{99_999_999}, indices, scoresHash))

	require.NoError(t, l.Finalize(ctx, batchHash, providers, payouts, indices, scoresHash))

	b, err := l.GetBatch(ctx, batchHash)
	require.NoError(t, err)
	require.True(t, b.Finalized)
	require.Equal(t, ledger.PhaseFinalized, b.PhaseAt(clock.t))

	// Second finalize fails; nothing is recomputed or re-paid.
	require.ErrorIs(t, l.Finalize(ctx, batchHash, providers, payouts, indices, scoresHash), ledger.ErrAlreadyFinalized)
}

func TestUnknownBatch(t *testing.T) {
	ctx := context.Background()
	l := NewLedger()
	_, err := l.GetBatch(ctx, common.Hash{1})
	require.ErrorIs(t, err, ledger.ErrNotFound)
	require.ErrorIs(t, l.Join(ctx, common.Hash{1}, provider), ledger.ErrNotFound)
}

func TestJoinRequiresFunding(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: windowStart.Add(-time.Hour)}
	l := NewLedger(WithClock(clock.now))

	batchHash := crypto.Keccak256Hash([]byte("unfunded"))
	require.NoError(t, l.CreateBatch(ledger.Batch{
		ID:             "unfunded",
		Hash:           batchHash,
		WindowStart:    windowStart,
		WindowEnd:      windowEnd,
		RevealDeadline: revealDeadline,
		Bounty:         1,
	}))
	require.ErrorIs(t, l.Join(ctx, batchHash, provider), ledger.ErrNotFunded)
}
