// Package commitment derives and verifies the cryptographic commitments
// that bind a provider to a hidden forecast before outcomes are known.
package commitment

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SaltSize is the size of a commitment salt in bytes.
const SaltSize = 32

// Salt is the per-submission blinding value. It must be freshly random
// for every submission; reuse would let an observer correlate commitments
// across batches via whichever input repeats.
type Salt [SaltSize]byte

// NewSalt returns a fresh salt from the system CSPRNG.
func NewSalt() (Salt, error) {
	var s Salt
	if _, err := io.ReadFull(rand.Reader, s[:]); err != nil {
		return Salt{}, fmt.Errorf("commitment: salt: %w", err)
	}
	return s, nil
}

// SaltFromHex parses a hex-encoded salt.
func SaltFromHex(s string) (Salt, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Salt{}, fmt.Errorf("commitment: salt hex: %w", err)
	}
	if len(b) != SaltSize {
		return Salt{}, fmt.Errorf("commitment: salt must be %d bytes, got %d", SaltSize, len(b))
	}
	var out Salt
	copy(out[:], b)
	return out, nil
}

// Hex returns the hex encoding of the salt, without a 0x prefix.
func (s Salt) Hex() string {
	return hex.EncodeToString(s[:])
}

// Root is the content digest of a canonical payload.
func Root(canonicalBytes []byte) common.Hash {
	return crypto.Keccak256Hash(canonicalBytes)
}

// CommitHash binds a batch, a payload root and a salt into the value
// anchored on-ledger: Keccak256(batchHash ‖ root ‖ salt). The operands
// are fixed-width 32-byte values and the order is significant.
func CommitHash(batchHash, root common.Hash, salt Salt) common.Hash {
	return crypto.Keccak256Hash(batchHash[:], root[:], salt[:])
}

// Verify reports whether a revealed (root, salt) pair reproduces the
// on-ledger commit hash for the given batch.
func Verify(batchHash, root common.Hash, salt Salt, commitHash common.Hash) bool {
	return CommitHash(batchHash, root, salt) == commitHash
}
