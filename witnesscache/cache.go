// Package witnesscache keeps recently seen hashlock witnesses so a witness
// that arrives before its escrow is indexed can still be used later.
package witnesscache

import (
	"sync"

	"github.com/ethereum/go-ethereum/common/lru"
)

const DEFAULT_CAPACITY = 10000

// PrunedSecretsMap is a bounded map with FIFO eviction.
// Entries are only ever inserted once and read with Peek, so the
// underlying recency order is the insertion order.
type PrunedSecretsMap struct {
	mu    sync.Mutex
	cache lru.BasicLRU[string, string]
}

func New(capacity int) *PrunedSecretsMap {
	if capacity <= 0 {
		capacity = DEFAULT_CAPACITY
	}
	return &PrunedSecretsMap{cache: lru.NewBasicLRU[string, string](capacity)}
}

// Set inserts key if absent. It returns false when key is already present,
// the stored value and its queue position are left untouched.
func (m *PrunedSecretsMap) Set(key string, value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache.Contains(key) {
		return false
	}
	m.cache.Add(key, value)
	return true
}

func (m *PrunedSecretsMap) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Peek(key)
}

func (m *PrunedSecretsMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}
