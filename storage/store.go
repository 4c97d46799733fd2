// Package storage is the persistence boundary of the watchtower: a
// namespaced key/value table in sqlite fronted by an in-memory map.
// The map is the single authoritative view; every write goes to sqlite
// first and only then to the map, under the same lock.
package storage

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/TEENet-io/watchtower-go/database"
)

// Codec turns records into bytes and back.
type Codec[T any] struct {
	Encode func(T) ([]byte, error)
	Decode func([]byte) (T, error)
}

type Store[T any] struct {
	mu        sync.RWMutex
	stmtCache *database.StmtCache
	namespace string
	codec     Codec[T]
	data      map[string]T
	loaded    bool
}

// Open opens (or creates) the sqlite file at path.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewStore creates the table if needed. Call Load before use.
func NewStore[T any](db *sql.DB, namespace string, codec Codec[T]) (*Store[T], error) {
	if _, err := db.Exec(kvTable); err != nil {
		return nil, err
	}
	return &Store[T]{
		stmtCache: database.NewStmtCache(db),
		namespace: namespace,
		codec:     codec,
		data:      make(map[string]T),
	}, nil
}

func (s *Store[T]) Close() {
	s.stmtCache.Clear()
}

// Load reads every record of the namespace into memory and returns them.
func (s *Store[T]) Load(ctx context.Context) (map[string]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt, err := s.stmtCache.Prepare(ctx, queryLoadAll)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, s.namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	data := make(map[string]T)
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, err
		}
		v, err := s.codec.Decode(raw)
		if err != nil {
			return nil, ErrDecodeRecord(s.namespace, key, err)
		}
		data[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.data = data
	s.loaded = true

	out := make(map[string]T, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out, nil
}

// Save persists v under key, then publishes it in memory.
func (s *Store[T]) Save(ctx context.Context, key string, v T) error {
	raw, err := s.codec.Encode(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}
	if _, err := s.stmtCache.Exec(ctx, queryUpsert, s.namespace, key, raw, time.Now().Unix()); err != nil {
		return err
	}
	s.data[key] = v
	return nil
}

// Remove deletes key. It reports whether the key was present.
func (s *Store[T]) Remove(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return false, ErrNotLoaded
	}
	if _, ok := s.data[key]; !ok {
		return false, nil
	}
	if _, err := s.stmtCache.Exec(ctx, queryDelete, s.namespace, key); err != nil {
		return false, err
	}
	delete(s.data, key)
	return true, nil
}

func (s *Store[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Keys returns the stored keys, sorted.
func (s *Store[T]) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns the stored records ordered by key.
func (s *Store[T]) Values() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.data[k])
	}
	return out
}
