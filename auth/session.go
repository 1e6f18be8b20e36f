package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// SessionTTL is how long a session token stays valid after login.
const SessionTTL = time.Hour

var (
	// ErrSessionNotFound is returned when no live session exists for a
	// presented token.
	ErrSessionNotFound = errors.New("auth: session not found")
	// ErrSessionExpired is returned for a session past its expiry.
	ErrSessionExpired = errors.New("auth: session expired")
	// ErrSessionMismatch is returned when a valid session is presented
	// for a different provider than it was issued to.
	ErrSessionMismatch = errors.New("auth: session does not match provider")
)

// Session is a bearer credential issued after a verified login. Mutating
// requests present its token; the server binds it to the address that
// proved key ownership.
type Session struct {
	Address   common.Address `json:"address"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// StartSession issues a fresh session for an address that has just
// passed VerifyLogin. Sessions are held in process memory only; a
// restart invalidates them and clients log in again.
func (v *Verifier) StartSession(address common.Address) *Session {
	s := Session{
		Address:   address,
		Token:     uuid.NewString(),
		ExpiresAt: v.now().Add(SessionTTL).UTC().Truncate(time.Second),
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sessions[s.Token] = s
	return &s
}

// VerifySession checks that the token belongs to a live session issued
// to the given address. Expired sessions are evicted on sight.
func (v *Verifier) VerifySession(token string, address common.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	s, ok := v.sessions[token]
	if !ok {
		return ErrSessionNotFound
	}
	if v.now().After(s.ExpiresAt) {
		delete(v.sessions, token)
		return ErrSessionExpired
	}
	if s.Address != address {
		return fmt.Errorf("%w: issued to %s", ErrSessionMismatch, s.Address.Hex())
	}
	return nil
}
