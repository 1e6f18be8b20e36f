// Package envelope implements the authenticated encryption of canonical
// payloads at rest. An envelope is the only off-ledger representation of
// a forecast before reveal; its ciphertext digest is bound into the
// on-ledger commitment.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// Version1 is the only supported envelope version.
	Version1 = 1
	// AlgA256GCM is the only supported algorithm tag.
	AlgA256GCM = "A256GCM"

	// KeySize is the AES-256 key size in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce size in bytes.
	NonceSize = 12
)

var (
	// ErrBadKeyLength is returned when the master key is not KeySize bytes.
	ErrBadKeyLength = errors.New("envelope: key must be 32 bytes")
	// ErrUnsupportedVersion is returned for an unknown envelope version.
	ErrUnsupportedVersion = errors.New("envelope: unsupported version")
	// ErrUnsupportedAlgorithm is returned for an unknown algorithm tag.
	ErrUnsupportedAlgorithm = errors.New("envelope: unsupported algorithm")
	// ErrMalformed is returned when an envelope cannot be parsed.
	ErrMalformed = errors.New("envelope: malformed envelope")
	// ErrAuthentication is returned when decryption fails for any reason
	// after the envelope itself parsed. No partial plaintext is ever
	// returned alongside it.
	ErrAuthentication = errors.New("envelope: authentication failed")
)

// EnvelopeV1 is the version-1 wire format: AES-256-GCM with a fresh
// random 96-bit nonce per message.
type EnvelopeV1 struct {
	V   int    `json:"v"`
	Alg string `json:"alg"`
	IV  string `json:"iv_b64"`
	CT  string `json:"ct_b64"`
}

// KeyProvider supplies the server-held symmetric master key. The key is
// always injected, never read from ambient state.
type KeyProvider interface {
	MasterKey() ([]byte, error)
}

// StaticKey is a KeyProvider holding a fixed key, typically decoded from
// configuration.
type StaticKey []byte

// MasterKey implements KeyProvider.
func (k StaticKey) MasterKey() ([]byte, error) {
	if len(k) != KeySize {
		return nil, ErrBadKeyLength
	}
	return k, nil
}

// Seal encrypts a canonical payload under the master key with a fresh
// random nonce. Nonces must come from a CSPRNG; a repeated (key, nonce)
// pair breaks GCM entirely.
func Seal(key, plaintext []byte) (*EnvelopeV1, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("envelope: nonce: %w", err)
	}

	ct := aead.Seal(nil, nonce, plaintext, nil)
	return &EnvelopeV1{
		V:   Version1,
		Alg: AlgA256GCM,
		IV:  base64.StdEncoding.EncodeToString(nonce),
		CT:  base64.StdEncoding.EncodeToString(ct),
	}, nil
}

// Open authenticates and decrypts an envelope. It fails closed: any tag
// mismatch, bad key length or malformed field yields an error and no
// plaintext.
func Open(key []byte, env *EnvelopeV1) ([]byte, error) {
	if err := env.validate(); err != nil {
		return nil, err
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: bad iv encoding", ErrMalformed)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes", ErrMalformed, NonceSize)
	}
	ct, err := base64.StdEncoding.DecodeString(env.CT)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ct encoding", ErrMalformed)
	}

	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}

// Parse decodes envelope JSON with exhaustive version dispatch; unknown
// versions and algorithms are rejected rather than best-effort parsed.
func Parse(b []byte) (*EnvelopeV1, error) {
	var head struct {
		V int `json:"v"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch head.V {
	case Version1:
		var env EnvelopeV1
		if err := json.Unmarshal(b, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := env.validate(); err != nil {
			return nil, err
		}
		return &env, nil
	default:
		return nil, fmt.Errorf("%w: v=%d", ErrUnsupportedVersion, head.V)
	}
}

// Marshal encodes the envelope as JSON.
func (e *EnvelopeV1) Marshal() ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// CiphertextHash is the digest of the raw ciphertext bytes, bound into
// the on-ledger commitment as encryptedUriHash.
func (e *EnvelopeV1) CiphertextHash() (common.Hash, error) {
	ct, err := base64.StdEncoding.DecodeString(e.CT)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: bad ct encoding", ErrMalformed)
	}
	return crypto.Keccak256Hash(ct), nil
}

func (e *EnvelopeV1) validate() error {
	if e.V != Version1 {
		return fmt.Errorf("%w: v=%d", ErrUnsupportedVersion, e.V)
	}
	if e.Alg != AlgA256GCM {
		return fmt.Errorf("%w: alg=%q", ErrUnsupportedAlgorithm, e.Alg)
	}
	if e.IV == "" || e.CT == "" {
		return fmt.Errorf("%w: missing iv or ct", ErrMalformed)
	}
	return nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrBadKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: gcm: %w", err)
	}
	return aead, nil
}
