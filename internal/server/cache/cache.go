// Package cache remembers recently seen keys, used to drop redelivered
// webhooks. Entries expire after a TTL.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultTTL covers the redelivery window of webhook senders.
const DefaultTTL = 10 * time.Minute

// Seen is a TTL set of keys.
type Seen struct {
	store *gocache.Cache
}

// NewSeen creates a set whose keys expire after ttl. Expired keys are
// purged every ttl.
func NewSeen(ttl time.Duration) *Seen {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Seen{store: gocache.New(ttl, ttl)}
}

// Mark records key. It reports false when key was already present.
func (s *Seen) Mark(key string) bool {
	return s.store.Add(key, struct{}{}, gocache.DefaultExpiration) == nil
}

// Has reports whether key is present.
func (s *Seen) Has(key string) bool {
	_, ok := s.store.Get(key)
	return ok
}

// Len returns the number of live keys.
func (s *Seen) Len() int {
	return s.store.ItemCount()
}
