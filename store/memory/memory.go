// Package memory implements the envelope store in process, for tests
// and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/volarelabs/flightcast/forecast/envelope"
	"github.com/volarelabs/flightcast/store"
)

type object struct {
	meta store.Metadata
	env  envelope.EnvelopeV1
}

// Store is an in-memory envelope store.
type Store struct {
	mu      sync.RWMutex
	objects map[string]*object
}

var _ store.EnvelopeStore = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{objects: make(map[string]*object)}
}

// Put implements store.EnvelopeStore.
func (s *Store) Put(_ context.Context, ref store.ObjectRef, env *envelope.EnvelopeV1) (*store.Metadata, error) {
	body, err := env.Marshal()
	if err != nil {
		return nil, err
	}
	ctHash, err := env.CiphertextHash()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := ref.Key()
	if _, ok := s.objects[key]; ok {
		return nil, store.ErrAlreadyExists
	}
	meta := store.Metadata{
		Key:            key,
		BatchHash:      ref.BatchHash,
		Provider:       ref.Provider,
		CreatedAt:      ref.CreatedAt,
		CiphertextHash: ctHash,
		Size:           len(body),
	}
	s.objects[key] = &object{meta: meta, env: *env}
	out := meta
	return &out, nil
}

// Get implements store.EnvelopeStore.
func (s *Store) Get(_ context.Context, key string) (*envelope.EnvelopeV1, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	env := obj.env
	return &env, nil
}

// ListByBatch implements store.EnvelopeStore.
func (s *Store) ListByBatch(_ context.Context, batchHash common.Hash) ([]*store.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Metadata
	for _, obj := range s.objects {
		if obj.meta.BatchHash == batchHash {
			meta := obj.meta
			out = append(out, &meta)
		}
	}
	sortMetadata(out)
	return out, nil
}

// ListByBatchProvider implements store.EnvelopeStore.
func (s *Store) ListByBatchProvider(_ context.Context, batchHash common.Hash, provider common.Address) ([]*store.Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*store.Metadata
	for _, obj := range s.objects {
		if obj.meta.BatchHash == batchHash && obj.meta.Provider == provider {
			meta := obj.meta
			out = append(out, &meta)
		}
	}
	sortMetadata(out)
	return out, nil
}

func sortMetadata(metas []*store.Metadata) {
	sort.Slice(metas, func(i, j int) bool {
		a, b := metas[i], metas[j]
		if a.Provider != b.Provider {
			return strings.ToLower(a.Provider.Hex()) < strings.ToLower(b.Provider.Hex())
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Key < b.Key
	})
}
