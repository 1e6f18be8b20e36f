package auth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func newSigner(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func personalSign(t *testing.T, key *ecdsa.PrivateKey, msg string) []byte {
	t.Helper()
	digest := crypto.Keccak256(
		[]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))),
		[]byte(msg),
	)
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	return sig
}

func TestLoginMessageTemplate(t *testing.T) {
	addr := common.HexToAddress("0x8ba1f109551bD432803012645Ac136ddd64DBa72")
	expires := time.Date(2026, 9, 1, 12, 30, 0, 0, time.UTC)

	msg := LoginMessage(addr, "nonce-123", expires)
	require.Equal(t,
		"Login\nAddress: 0x8ba1f109551bD432803012645Ac136ddd64DBa72\nNonce: nonce-123\nExpires: 2026-09-01T12:30:00Z",
		msg)
}

func TestRecoverSigner(t *testing.T) {
	key, addr := newSigner(t)
	msg := LoginMessage(addr, "nonce", time.Now())
	sig := personalSign(t, key, msg)

	got, err := RecoverSigner(msg, sig)
	require.NoError(t, err)
	require.Equal(t, addr, got)

	// Wallets emit V as 27/28; both encodings must recover.
	walletSig := make([]byte, len(sig))
	copy(walletSig, sig)
	walletSig[64] += 27
	got, err = RecoverSigner(msg, walletSig)
	require.NoError(t, err)
	require.Equal(t, addr, got)

	_, err = RecoverSigner(msg, sig[:64])
	require.ErrorIs(t, err, ErrMalformedSignature)
}

func TestVerifyLoginFlow(t *testing.T) {
	ctx := context.Background()
	key, addr := newSigner(t)
	v := NewVerifier(NewMemStore())

	ch, err := v.IssueChallenge(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, addr, ch.Address)
	require.NotEmpty(t, ch.Nonce)

	sig := personalSign(t, key, LoginMessage(addr, ch.Nonce, ch.ExpiresAt))
	require.NoError(t, v.VerifyLogin(ctx, addr, ch.Nonce, sig))

	// The nonce is single-use: a second use is rejected.
	err = v.VerifyLogin(ctx, addr, ch.Nonce, sig)
	require.ErrorIs(t, err, ErrNonceNotFound)
}

func TestVerifyLoginWrongSigner(t *testing.T) {
	ctx := context.Background()
	otherKey, _ := newSigner(t)
	_, addr := newSigner(t)
	v := NewVerifier(NewMemStore())

	ch, err := v.IssueChallenge(ctx, addr)
	require.NoError(t, err)

	sig := personalSign(t, otherKey, LoginMessage(addr, ch.Nonce, ch.ExpiresAt))
	err = v.VerifyLogin(ctx, addr, ch.Nonce, sig)
	require.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestVerifyLoginExpired(t *testing.T) {
	ctx := context.Background()
	key, addr := newSigner(t)

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	v := NewVerifier(NewMemStore()).WithClock(func() time.Time { return now })

	ch, err := v.IssueChallenge(ctx, addr)
	require.NoError(t, err)
	require.Equal(t, now.Add(NonceTTL), ch.ExpiresAt)

	now = now.Add(NonceTTL + time.Second)
	sig := personalSign(t, key, LoginMessage(addr, ch.Nonce, ch.ExpiresAt))
	err = v.VerifyLogin(ctx, addr, ch.Nonce, sig)
	require.ErrorIs(t, err, ErrNonceExpired)
}

func TestIssueReplacesPriorNonce(t *testing.T) {
	ctx := context.Background()
	_, addr := newSigner(t)
	v := NewVerifier(NewMemStore())

	ch1, err := v.IssueChallenge(ctx, addr)
	require.NoError(t, err)
	ch2, err := v.IssueChallenge(ctx, addr)
	require.NoError(t, err)
	require.NotEqual(t, ch1.Nonce, ch2.Nonce)

	// Only the latest nonce is live.
	_, err = NewMemStore().Consume(ctx, addr, ch1.Nonce)
	require.ErrorIs(t, err, ErrNonceNotFound)
	_, err = v.store.Consume(ctx, addr, ch1.Nonce)
	require.ErrorIs(t, err, ErrNonceNotFound)
	_, err = v.store.Consume(ctx, addr, ch2.Nonce)
	require.NoError(t, err)
}

func TestConsumeConcurrent(t *testing.T) {
	ctx := context.Background()
	_, addr := newSigner(t)
	s := NewMemStore()
	require.NoError(t, s.Issue(ctx, Challenge{Address: addr, Nonce: "n", ExpiresAt: time.Now().Add(time.Minute)}))

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := s.Consume(ctx, addr, "n")
			results <- err
		}()
	}
	var ok, failed int
	for i := 0; i < 2; i++ {
		if err := <-results; err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, ErrNonceNotFound)
			failed++
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, failed)
}
