// Package finalize computes the deterministic payout vector and the
// canonical scoring record that the ledger's one-shot finalize transition
// accepts.
package finalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// RecordVersion is the scoring record format version.
	RecordVersion = 1
	// ScoringUniformV1 is the default scoring tag: the bounty split
	// evenly across providers, remainder to the first providers in
	// address-sorted order.
	ScoringUniformV1 = "uniform-v1"
)

var (
	// ErrNoProviders is returned when finalizing an empty provider set.
	ErrNoProviders = errors.New("finalize: no providers")
	// ErrPayoutMismatch is returned when payouts do not conserve the bounty.
	ErrPayoutMismatch = errors.New("finalize: payouts do not sum to bounty")
	// ErrMissingSelection is returned when a provider has no selected index.
	ErrMissingSelection = errors.New("finalize: missing selected index for provider")
)

// Record is the canonical scoring record. Field order is fixed; the
// record hash is computed over the exact UTF-8 bytes of its JSON
// serialization, so the order must never change.
type Record struct {
	V                     int      `json:"v"`
	Scoring               string   `json:"scoring"`
	BatchID               string   `json:"batchId"`
	BatchIDHash           string   `json:"batchIdHash"`
	Operator              string   `json:"operator"`
	Funder                string   `json:"funder"`
	CreatedAtUnix         int64    `json:"createdAtUnix"`
	Providers             []string `json:"providers"`
	SelectedCommitIndices []uint64 `json:"selectedCommitIndices"`
	Payouts               []uint64 `json:"payouts"`
}

// Result carries everything the ledger finalize transition takes, plus
// the scoring record the hash was computed over.
type Result struct {
	Providers       []common.Address
	SelectedIndices []uint64
	Payouts         []uint64
	ScoresHash      common.Hash
	Record          *Record
	RecordJSON      []byte
}

// Input describes one batch to finalize.
type Input struct {
	BatchID   string
	BatchHash common.Hash
	Operator  common.Address
	Funder    common.Address
	Bounty    uint64
	CreatedAt time.Time

	// Scoring names the payout scheme; defaults to ScoringUniformV1.
	Scoring string

	// Providers is the raw participant list; it is deduplicated and
	// address-sorted before any payout math.
	Providers []common.Address

	// SelectedIndices maps each provider to its seed-selected commit
	// index.
	SelectedIndices map[common.Address]uint64

	// Payouts, if non-nil, is an operator-supplied payout vector
	// parallel to the deduplicated sorted provider list. If nil, the
	// bounty is split with EqualSplit.
	Payouts []uint64
}

// EqualSplit splits a bounty across n providers: base = floor(B/n), and
// the remainder is distributed as one extra base unit to the first
// B−base·n providers in sorted order. sum(payouts) == B exactly.
func EqualSplit(bounty uint64, n int) ([]uint64, error) {
	if n < 1 {
		return nil, ErrNoProviders
	}
	base := bounty / uint64(n)
	remainder := bounty - base*uint64(n)
	payouts := make([]uint64, n)
	for i := range payouts {
		payouts[i] = base
		if uint64(i) < remainder {
			payouts[i]++
		}
	}
	return payouts, nil
}

// DedupeSorted returns the provider set deduplicated and sorted by
// address bytes ascending.
func DedupeSorted(providers []common.Address) []common.Address {
	seen := make(map[common.Address]struct{}, len(providers))
	out := make([]common.Address, 0, len(providers))
	for _, p := range providers {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}

// Build computes the finalization for a batch. It is pure; the one-shot
// guard against double finalization lives at the ledger.
func Build(in Input) (*Result, error) {
	providers := DedupeSorted(in.Providers)
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	scoring := in.Scoring
	if scoring == "" {
		scoring = ScoringUniformV1
	}

	payouts := in.Payouts
	if payouts == nil {
		var err error
		payouts, err = EqualSplit(in.Bounty, len(providers))
		if err != nil {
			return nil, err
		}
	}
	if len(payouts) != len(providers) {
		return nil, fmt.Errorf("finalize: %d payouts for %d providers", len(payouts), len(providers))
	}
	var sum uint64
	for _, p := range payouts {
		sum += p
	}
	if sum != in.Bounty {
		return nil, fmt.Errorf("%w: sum=%d bounty=%d", ErrPayoutMismatch, sum, in.Bounty)
	}

	selected := make([]uint64, len(providers))
	providerStrs := make([]string, len(providers))
	for i, p := range providers {
		idx, ok := in.SelectedIndices[p]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSelection, p.Hex())
		}
		selected[i] = idx
		providerStrs[i] = strings.ToLower(p.Hex())
	}

	record := &Record{
		V:                     RecordVersion,
		Scoring:               scoring,
		BatchID:               in.BatchID,
		BatchIDHash:           in.BatchHash.Hex(),
		Operator:              strings.ToLower(in.Operator.Hex()),
		Funder:                strings.ToLower(in.Funder.Hex()),
		CreatedAtUnix:         in.CreatedAt.Unix(),
		Providers:             providerStrs,
		SelectedCommitIndices: selected,
		Payouts:               payouts,
	}
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("finalize: marshal record: %w", err)
	}

	return &Result{
		Providers:       providers,
		SelectedIndices: selected,
		Payouts:         payouts,
		ScoresHash:      crypto.Keccak256Hash(recordJSON),
		Record:          record,
		RecordJSON:      recordJSON,
	}, nil
}
