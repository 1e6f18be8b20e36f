// Package selector maps a revealed random seed and a provider's commit
// count to the single revision that counts for scoring.
//
// Providers may submit several revisions across the commit window.
// Deterministic "latest wins" would reward last-moment strategic
// revision; seed-based selection removes that incentive because no
// provider can predict which revision is scored. Display surfaces that
// want "most recent submission" must use LatestIndex, which is kept as a
// separate reducer and never feeds payout logic.
package selector

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoCommits is returned when a provider has no commits to select from.
var ErrNoCommits = errors.New("selector: provider has no commits")

// SelectedIndex returns Keccak256(seed ‖ provider) mod commitCount. It is
// a pure function of public post-reveal state: any observer can recompute
// it once the seed is revealed.
func SelectedIndex(seed common.Hash, provider common.Address, commitCount uint64) (uint64, error) {
	if commitCount == 0 {
		return 0, ErrNoCommits
	}
	prf := new(big.Int).SetBytes(crypto.Keccak256(seed[:], provider[:]))
	return prf.Mod(prf, new(big.Int).SetUint64(commitCount)).Uint64(), nil
}

// LatestIndex is the display-only "most recent submission" reducer.
func LatestIndex(commitCount uint64) (uint64, error) {
	if commitCount == 0 {
		return 0, ErrNoCommits
	}
	return commitCount - 1, nil
}
