package finalize

import (
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func addr(i byte) common.Address {
	return common.BytesToAddress([]byte{i})
}

func TestEqualSplitConservation(t *testing.T) {
	payouts, err := EqualSplit(300_000_000, 7)
	require.NoError(t, err)
	require.Len(t, payouts, 7)

	// base = 42,857,142, remainder = 6: first 6 providers get +1.
	var sum uint64
	for i, p := range payouts {
		sum += p
		if i < 6 {
			require.Equal(t, uint64(42_857_143), p)
		} else {
			require.Equal(t, uint64(42_857_142), p)
		}
	}
	require.Equal(t, uint64(300_000_000), sum)
}

func TestEqualSplitVariousN(t *testing.T) {
	for _, tc := range []struct {
		bounty uint64
		n      int
	}{
		{100_000_000, 2},
		{1, 1},
		{10, 3},
		{0, 5},
		{999_999_999, 13},
	} {
		payouts, err := EqualSplit(tc.bounty, tc.n)
		require.NoError(t, err)
		var sum uint64
		for _, p := range payouts {
			sum += p
		}
		require.Equal(t, tc.bounty, sum, "bounty=%d n=%d", tc.bounty, tc.n)
	}

	_, err := EqualSplit(100, 0)
	require.ErrorIs(t, err, ErrNoProviders)
}

func TestDedupeSorted(t *testing.T) {
	got := DedupeSorted([]common.Address{addr(3), addr(1), addr(3), addr(2), addr(1)})
	require.Equal(t, []common.Address{addr(1), addr(2), addr(3)}, got)
}

func TestBuild(t *testing.T) {
	batchHash := crypto.Keccak256Hash([]byte("batch"))
	res, err := Build(Input{
		BatchID:   "sep-2026-wk3",
		BatchHash: batchHash,
		Operator:  addr(0xaa),
		Funder:    addr(0xbb),
		Bounty:    100_000_000,
		CreatedAt: time.Unix(1_790_000_000, 0),
		Providers: []common.Address{addr(2), addr(1), addr(2)},
		SelectedIndices: map[common.Address]uint64{
			addr(1): 0,
			addr(2): 1,
		},
	})
	require.NoError(t, err)

	require.Equal(t, []common.Address{addr(1), addr(2)}, res.Providers)
	require.Equal(t, []uint64{0, 1}, res.SelectedIndices)
	require.Equal(t, []uint64{50_000_000, 50_000_000}, res.Payouts)
	require.Equal(t, crypto.Keccak256Hash(res.RecordJSON), res.ScoresHash)

	// The record serialization has a fixed key order; the hash is over
	// these exact bytes.
	want := fmt.Sprintf(`{"v":1,"scoring":"uniform-v1","batchId":"sep-2026-wk3","batchIdHash":"%s",`+
		`"operator":"0x00000000000000000000000000000000000000aa",`+
		`"funder":"0x00000000000000000000000000000000000000bb",`+
		`"createdAtUnix":1790000000,`+
		`"providers":["0x0000000000000000000000000000000000000001","0x0000000000000000000000000000000000000002"],`+
		`"selectedCommitIndices":[0,1],"payouts":[50000000,50000000]}`, batchHash.Hex())
	require.Equal(t, want, string(res.RecordJSON))
}

func TestBuildDeterministic(t *testing.T) {
	in := Input{
		BatchID:   "b",
		BatchHash: crypto.Keccak256Hash([]byte("b")),
		Bounty:    12345,
		CreatedAt: time.Unix(1000, 0),
		Providers: []common.Address{addr(1), addr(2), addr(3)},
		SelectedIndices: map[common.Address]uint64{
			addr(1): 4, addr(2): 0, addr(3): 2,
		},
	}
	r1, err := Build(in)
	require.NoError(t, err)
	r2, err := Build(in)
	require.NoError(t, err)
	require.Equal(t, r1.ScoresHash, r2.ScoresHash)
	require.Equal(t, r1.RecordJSON, r2.RecordJSON)
}

func TestBuildRejects(t *testing.T) {
	_, err := Build(Input{Bounty: 100})
	require.ErrorIs(t, err, ErrNoProviders)

	_, err = Build(Input{
		Bounty:          100,
		Providers:       []common.Address{addr(1)},
		SelectedIndices: map[common.Address]uint64{},
	})
	require.ErrorIs(t, err, ErrMissingSelection)

	_, err = Build(Input{
		Bounty:          100,
		Providers:       []common.Address{addr(1)},
		SelectedIndices: map[common.Address]uint64{addr(1): 0},
		Payouts:         []uint64{99},
	})
	require.ErrorIs(t, err, ErrPayoutMismatch)

	_, err = Build(Input{
		Bounty:          100,
		Providers:       []common.Address{addr(1)},
		SelectedIndices: map[common.Address]uint64{addr(1): 0},
		Payouts:         []uint64{50, 50},
	})
	require.Error(t, err)
}
