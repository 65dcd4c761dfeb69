package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const nanoTokensPerToken int64 = int64(time.Second) // 1e9

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket is a deterministic token bucket that refills at an integer
// rate (tokens/sec) using the provided clock.
//
// One token is represented as 1e9 nano-tokens, so a rate of X tokens/sec adds
// X nano-tokens per nanosecond elapsed.
type TokenBucket struct {
	mu sync.Mutex

	clock clock.Clock

	capacityNano int64
	fillRate     int64 // tokens/sec

	available int64
	last      time.Time
}

func NewTokenBucket(clk clock.Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clk == nil {
		clk = clock.New()
	}
	if fillRate < 0 {
		fillRate = 0
	}
	capacityNano := mulTokenToNano(capacityTokens)
	return &TokenBucket{
		clock:        clk,
		capacityNano: capacityNano,
		fillRate:     fillRate,
		available:    capacityNano,
		last:         clk.Now(),
	}
}

// Allow consumes the provided number of tokens if available.
//
// tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := mulTokenToNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards. Move the reference point without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	b.last = now
	if elapsed <= 0 || b.fillRate <= 0 || b.available >= b.capacityNano {
		if b.available > b.capacityNano {
			b.available = b.capacityNano
		}
		return
	}

	need := b.capacityNano - b.available
	// Clamp before multiplying so elapsed*rate cannot overflow.
	if elapsed >= need/b.fillRate {
		b.available = b.capacityNano
		return
	}
	b.available += elapsed * b.fillRate
	if b.available > b.capacityNano {
		b.available = b.capacityNano
	}
}

func mulTokenToNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}
