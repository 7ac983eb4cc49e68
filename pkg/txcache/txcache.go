// Package txcache remembers recently applied transaction effects so a
// redelivered balance event is recognised without touching the store.
package txcache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a bounded set of dedup keys whose members expire after a TTL.
type Cache struct {
	lru *expirable.LRU[string, struct{}]
}

// New returns a cache holding at most size keys for ttl each.
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 1
	}
	return &Cache{lru: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Seen reports whether key was marked and has not expired. Empty keys are
// never seen.
func (c *Cache) Seen(key string) bool {
	if key == "" {
		return false
	}
	return c.lru.Contains(key)
}

// Mark records key.
func (c *Cache) Mark(key string) {
	if key == "" {
		return
	}
	c.lru.Add(key, struct{}{})
}

// Len is the number of live keys.
func (c *Cache) Len() int {
	return c.lru.Len()
}
