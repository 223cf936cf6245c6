// Package storage provides the shared Pebble-backed key-value store used by
// the ledger, market, and vault engines. Values are JSON, keys are short
// string prefixes plus identifiers, and every engine operation commits its
// writes through a single atomic batch.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Store wraps a Pebble database with JSON value helpers
// Thread-safety is the caller's concern: engines serialize access through
// their own mutexes, the store itself performs no locking
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at the given path
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		// Performance tuning
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,                  // 32MB memtable
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10, // 512KB
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// PutJSON marshals v and writes it under key with a durable sync
func (s *Store) PutJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// GetJSON loads the value under key into out
// Returns (false, nil) if the key does not exist
func (s *Store) GetJSON(key []byte, out any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Delete removes a key with a durable sync
func (s *Store) Delete(key []byte) error {
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// ScanPrefix iterates every key/value under prefix in lexicographic order
// The callback receives the raw key and value; returning an error aborts
func (s *Store) ScanPrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: KeyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

// KeyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "res:" -> upper bound "res;" (next byte after ':')
// Trailing 0xff bytes cannot be incremented and are truncated; a prefix of
// only 0xff bytes has no finite bound and returns nil, which Pebble treats
// as unbounded
func KeyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] != 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil
}

// Batch collects writes applied atomically on Commit
// One engine operation maps to one batch: either every storage mutation of
// the operation lands, or none do
type Batch struct {
	batch *pebble.Batch
}

// NewBatch creates a new batch writer
func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

// PutJSON adds a JSON write to the batch
func (b *Batch) PutJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.batch.Set(key, data, nil)
}

// Delete adds a deletion to the batch
func (b *Batch) Delete(key []byte) error {
	return b.batch.Delete(key, nil)
}

// Commit writes the batch to Pebble atomically
func (b *Batch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

// Close discards the batch without committing
func (b *Batch) Close() error {
	return b.batch.Close()
}
