package auth

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MemStore is an in-memory NonceStore for tests and single-node
// development.
type MemStore struct {
	mu     sync.Mutex
	nonces map[common.Address]Challenge
}

var _ NonceStore = (*MemStore)(nil)

// NewMemStore creates an empty in-memory nonce store.
func NewMemStore() *MemStore {
	return &MemStore{nonces: make(map[common.Address]Challenge)}
}

// Issue implements NonceStore.
func (s *MemStore) Issue(_ context.Context, ch Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[ch.Address] = ch
	return nil
}

// Consume implements NonceStore.
func (s *MemStore) Consume(_ context.Context, address common.Address, nonce string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.nonces[address]
	if !ok || ch.Nonce != nonce {
		return time.Time{}, ErrNonceNotFound
	}
	delete(s.nonces, address)
	return ch.ExpiresAt, nil
}
