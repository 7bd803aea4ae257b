// Package limits protects the broker process from a single misbehaving
// peer, the way the teacher's RateLimiter protects a client's connection
// from being flooded by its own messages. It never delays or reorders a
// notification already owed to a subscriber; it only decides whether to
// accept more work from one source.
package limits

import (
	"sync"

	"golang.org/x/time/rate"
)

// FrameLimiter hands out one rate.Limiter token bucket per key (client
// identifier for stream commands, or a fixed key for the shared UDP
// ingest socket), created lazily on first use.
type FrameLimiter struct {
	mu      sync.Mutex
	burst   int
	perSec  int
	buckets map[string]*rate.Limiter
}

// NewFrameLimiter creates a limiter allowing burst tokens instantly and
// refilling at perSec tokens/second thereafter, per key.
func NewFrameLimiter(burst, perSec int) *FrameLimiter {
	return &FrameLimiter{
		burst:   burst,
		perSec:  perSec,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether one frame from key may proceed right now.
func (f *FrameLimiter) Allow(key string) bool {
	f.mu.Lock()
	b, ok := f.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(f.perSec), f.burst)
		f.buckets[key] = b
	}
	f.mu.Unlock()
	return b.Allow()
}

// Forget drops a key's bucket, freeing its memory. A later Allow for the
// same key starts again from a full bucket.
func (f *FrameLimiter) Forget(key string) {
	f.mu.Lock()
	delete(f.buckets, key)
	f.mu.Unlock()
}
