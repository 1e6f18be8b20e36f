// Package auth implements provider authentication: a single-use,
// per-address login nonce and verification of the signed login message
// by recovering the signer from its signature.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// NonceTTL is how long an issued nonce stays valid.
const NonceTTL = 10 * time.Minute

var (
	// ErrNonceNotFound is returned when no live nonce exists for an
	// address, including the case where a concurrent request already
	// consumed it.
	ErrNonceNotFound = errors.New("auth: nonce not found")
	// ErrNonceExpired is returned for a nonce past its expiry.
	ErrNonceExpired = errors.New("auth: nonce expired")
	// ErrSignatureMismatch is returned when the recovered signer does
	// not match the claimed address.
	ErrSignatureMismatch = errors.New("auth: signature mismatch")
	// ErrMalformedSignature is returned for signatures that cannot be
	// parsed at all.
	ErrMalformedSignature = errors.New("auth: malformed signature")
)

// Challenge is an issued login nonce.
type Challenge struct {
	Address   common.Address `json:"address"`
	Nonce     string         `json:"nonce"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// NonceStore holds at most one live nonce per address. Consume must be
// atomic: of two concurrent consumers of the same nonce, exactly one
// succeeds.
type NonceStore interface {
	// Issue upserts a fresh nonce for the address, replacing any prior
	// one.
	Issue(ctx context.Context, ch Challenge) error

	// Consume deletes the nonce if it matches and returns its expiry;
	// ErrNonceNotFound on mismatch or absence. Expiry enforcement is
	// the caller's job.
	Consume(ctx context.Context, address common.Address, nonce string) (time.Time, error)
}

// LoginMessage renders the literal signed template. The timestamp is
// RFC 3339 UTC.
func LoginMessage(address common.Address, nonce string, expires time.Time) string {
	return fmt.Sprintf("Login\nAddress: %s\nNonce: %s\nExpires: %s",
		address.Hex(), nonce, expires.UTC().Format(time.RFC3339))
}

// RecoverSigner recovers the address that produced a personal_sign
// signature over msg.
func RecoverSigner(msg string, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrMalformedSignature, len(sig))
	}
	// Wallets emit V as 27/28; crypto.SigToPub wants 0/1.
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	digest := crypto.Keccak256(
		[]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))),
		[]byte(msg),
	)
	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verifier issues and verifies login challenges and the sessions minted
// from them.
type Verifier struct {
	store NonceStore
	now   func() time.Time

	mu       sync.Mutex
	sessions map[string]Session
}

// NewVerifier creates a verifier over the given nonce store.
func NewVerifier(store NonceStore) *Verifier {
	return &Verifier{
		store:    store,
		now:      time.Now,
		sessions: make(map[string]Session),
	}
}

// WithClock overrides the time source for tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// IssueChallenge creates and stores a fresh nonce for the address.
func (v *Verifier) IssueChallenge(ctx context.Context, address common.Address) (*Challenge, error) {
	ch := Challenge{
		Address:   address,
		Nonce:     uuid.NewString(),
		ExpiresAt: v.now().Add(NonceTTL).UTC().Truncate(time.Second),
	}
	if err := v.store.Issue(ctx, ch); err != nil {
		return nil, fmt.Errorf("auth: issue nonce: %w", err)
	}
	return &ch, nil
}

// VerifyLogin checks the signature over the login template and consumes
// the nonce. The nonce is invalidated on success; a second concurrent
// use fails with ErrNonceNotFound.
func (v *Verifier) VerifyLogin(ctx context.Context, address common.Address, nonce string, sig []byte) error {
	expires, err := v.store.Consume(ctx, address, nonce)
	if err != nil {
		return err
	}
	if v.now().After(expires) {
		return ErrNonceExpired
	}

	signer, err := RecoverSigner(LoginMessage(address, nonce, expires), sig)
	if err != nil {
		return err
	}
	if signer != address {
		return fmt.Errorf("%w: recovered %s, want %s", ErrSignatureMismatch, signer.Hex(), address.Hex())
	}
	return nil
}
