package session

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const memoryBinderSize = 16384

// MemoryBinder is an in-process TTL cache suitable for single-instance
// deployments. Safe for concurrent use.
type MemoryBinder struct {
	cache *expirable.LRU[string, string]
}

// NewMemoryBinder creates a MemoryBinder with the given TTL.
func NewMemoryBinder(ttl time.Duration) *MemoryBinder {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryBinder{
		cache: expirable.NewLRU[string, string](memoryBinderSize, nil, ttl),
	}
}

// Bind stores the binding, resetting its TTL.
func (b *MemoryBinder) Bind(_ context.Context, sessionID, apiKey string) error {
	b.cache.Add(sessionID, apiKey)
	return nil
}

// Lookup returns the bound API key if the binding has not expired.
func (b *MemoryBinder) Lookup(_ context.Context, sessionID string) (string, bool) {
	return b.cache.Get(sessionID)
}
