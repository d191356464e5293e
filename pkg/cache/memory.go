package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// NewMemory returns an in-process store used when Redis is not reachable.
// Entries carry their own TTL; expired items are purged every cleanup interval.
func NewMemory(cleanup time.Duration) *gocache.Cache {
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return gocache.New(gocache.NoExpiration, cleanup)
}
