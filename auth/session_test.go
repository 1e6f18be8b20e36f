package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	_, addr := newSigner(t)
	_, other := newSigner(t)

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	v := NewVerifier(NewMemStore()).WithClock(func() time.Time { return now })

	s := v.StartSession(addr)
	require.Equal(t, addr, s.Address)
	require.NotEmpty(t, s.Token)
	require.Equal(t, now.Add(SessionTTL), s.ExpiresAt)

	require.NoError(t, v.VerifySession(s.Token, addr))

	// The token is bound to the address it was issued to.
	err := v.VerifySession(s.Token, other)
	require.ErrorIs(t, err, ErrSessionMismatch)

	// An unknown token carries no session.
	err = v.VerifySession("no-such-token", addr)
	require.ErrorIs(t, err, ErrSessionNotFound)

	// Past the TTL the session is gone for good.
	now = now.Add(SessionTTL + time.Second)
	err = v.VerifySession(s.Token, addr)
	require.ErrorIs(t, err, ErrSessionExpired)
	err = v.VerifySession(s.Token, addr)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionsAreIndependent(t *testing.T) {
	_, a := newSigner(t)
	_, b := newSigner(t)
	v := NewVerifier(NewMemStore())

	sa := v.StartSession(a)
	sb := v.StartSession(b)
	require.NotEqual(t, sa.Token, sb.Token)
	require.NoError(t, v.VerifySession(sa.Token, a))
	require.NoError(t, v.VerifySession(sb.Token, b))
}
