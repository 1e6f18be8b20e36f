package memory

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/volarelabs/flightcast/forecast/envelope"
	"github.com/volarelabs/flightcast/store"
)

func sealTestEnvelope(t *testing.T) *envelope.EnvelopeV1 {
	t.Helper()
	key := make([]byte, envelope.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	env, err := envelope.Seal(key, []byte("payload"))
	require.NoError(t, err)
	return env
}

func TestObjectKeyFormat(t *testing.T) {
	batchHash := crypto.Keccak256Hash([]byte("batch"))
	provider := common.HexToAddress("0x8ba1f109551bD432803012645Ac136ddd64DBa72")
	createdAt := time.UnixMilli(1_790_000_000_123)

	ref, err := store.NewObjectRef(batchHash, provider, createdAt)
	require.NoError(t, err)
	require.Len(t, ref.Suffix, 12)
	require.Equal(t,
		fmt.Sprintf("%s/0x8ba1f109551bd432803012645ac136ddd64dba72/1790000000123-%s.json", batchHash.Hex(), ref.Suffix),
		ref.Key(),
	)
}

func TestPutGetWriteOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	env := sealTestEnvelope(t)

	ref, err := store.NewObjectRef(crypto.Keccak256Hash([]byte("batch")), common.Address{1}, time.Now())
	require.NoError(t, err)

	meta, err := s.Put(ctx, ref, env)
	require.NoError(t, err)
	require.Equal(t, ref.Key(), meta.Key)

	wantHash, err := env.CiphertextHash()
	require.NoError(t, err)
	require.Equal(t, wantHash, meta.CiphertextHash)

	got, err := s.Get(ctx, ref.Key())
	require.NoError(t, err)
	require.Equal(t, env, got)

	// Write-once: a second put under the same key fails.
	_, err = s.Put(ctx, ref, env)
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	batchHash := crypto.Keccak256Hash([]byte("batch"))
	other := crypto.Keccak256Hash([]byte("other"))
	p1 := common.Address{1}
	p2 := common.Address{2}

	base := time.UnixMilli(1_790_000_000_000)
	for i, tc := range []struct {
		batch    common.Hash
		provider common.Address
	}{
		{batchHash, p2},
		{batchHash, p1},
		{batchHash, p1},
		{other, p1},
	} {
		ref, err := store.NewObjectRef(tc.batch, tc.provider, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		_, err = s.Put(ctx, ref, sealTestEnvelope(t))
		require.NoError(t, err)
	}

	metas, err := s.ListByBatch(ctx, batchHash)
	require.NoError(t, err)
	require.Len(t, metas, 3)
	require.Equal(t, p1, metas[0].Provider)
	require.Equal(t, p1, metas[1].Provider)
	require.Equal(t, p2, metas[2].Provider)
	require.True(t, metas[0].CreatedAt.Before(metas[1].CreatedAt))

	mine, err := s.ListByBatchProvider(ctx, batchHash, p1)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.True(t, mine[0].CreatedAt.Before(mine[1].CreatedAt))
}
