package enrich

import (
	"fmt"

	"github.com/akrylysov/pogreb"

	"github.com/volarelabs/flightcast/log"
)

// KVStore is the file-backed cache for third-party flight data
// responses.
type KVStore struct {
	db     *pogreb.DB
	path   string
	logger *log.Logger
}

// OpenKVStore opens (or creates) a pogreb store at path.
func OpenKVStore(path string, logger *log.Logger) (*KVStore, error) {
	db, err := pogreb.Open(path, &pogreb.Options{})
	if err != nil {
		return nil, fmt.Errorf("enrich: open kvstore %s: %w", path, err)
	}
	return &KVStore{
		db:     db,
		path:   path,
		logger: logger.WithModule("kvstore"),
	}, nil
}

// Get returns the value for key, or nil if absent.
func (s *KVStore) Get(key []byte) ([]byte, error) {
	return s.db.Get(key)
}

// Put stores a value under key.
func (s *KVStore) Put(key, value []byte) error {
	return s.db.Put(key, value)
}

// Close closes the underlying store.
func (s *KVStore) Close() error {
	s.logger.Info("closing kvstore", "path", s.path)
	return s.db.Close()
}
