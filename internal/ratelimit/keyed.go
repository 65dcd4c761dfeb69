package ratelimit

import (
	"sync"

	"github.com/benbjohnson/clock"
)

// KeyedLimiter hands out one TokenBucket per key (a signaling connection id),
// so every transport applies the same per-connection message budget.
type KeyedLimiter struct {
	clock    clock.Clock
	perSec   int64
	capacity int64

	mu      sync.Mutex
	buckets map[string]*TokenBucket
	live    func(key string) bool
}

// NewKeyedLimiter returns a limiter allowing perSecond messages per key with a
// burst of the same size. perSecond <= 0 disables limiting.
func NewKeyedLimiter(clk clock.Clock, perSecond int) *KeyedLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &KeyedLimiter{
		clock:    clk,
		perSec:   int64(perSecond),
		capacity: int64(perSecond),
		buckets:  make(map[string]*TokenBucket),
	}
}

// TrackLiveness makes Allow create buckets only for keys live reports as
// present. live is consulted under the limiter lock, so a key whose removal
// is followed by Forget can never be left holding a bucket. Must be called
// before the limiter is shared.
func (l *KeyedLimiter) TrackLiveness(live func(key string) bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.live = live
	l.mu.Unlock()
}

// Allow spends one token from key's bucket. Keys rejected by the liveness
// check are let through without a bucket; the caller's own lookup rejects
// them.
func (l *KeyedLimiter) Allow(key string) bool {
	if l == nil || l.perSec <= 0 {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		if l.live != nil && !l.live(key) {
			l.mu.Unlock()
			return true
		}
		b = NewTokenBucket(l.clock, l.capacity, l.perSec)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow(1)
}

// Forget drops the bucket for key. It must be called once the key's
// connection is gone so the map does not grow without bound.
func (l *KeyedLimiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

func (l *KeyedLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
