package ratelimit

import (
	"context"
	"sync"
	"time"
)

// clientBucket tracks the token balance for one client key.
type clientBucket struct {
	tokens   float64
	lastSeen time.Time
}

// MemoryLimiter is an in-process token bucket limiter. The HTTP middleware
// keys it by client IP, so every remote client refills at rate tokens per
// second up to a burst ceiling. A background sweeper drops buckets for
// clients idle long enough to have refilled completely, keeping memory
// proportional to the set of recently active clients.
type MemoryLimiter struct {
	rate  float64 // tokens added per second
	burst float64 // bucket capacity

	idleTTL    time.Duration
	sweepEvery time.Duration

	mu      sync.Mutex
	buckets map[string]*clientBucket

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates a limiter with an explicit refill rate (tokens
// per second) and burst capacity. Call Close to stop the sweeper.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:       rate,
		burst:      float64(burst),
		idleTTL:    idleTTL(rate, burst),
		sweepEvery: time.Minute,
		buckets:    make(map[string]*clientBucket),
		done:       make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// NewPerMinuteLimiter sizes a MemoryLimiter from a requests-per-minute
// budget: the sustained rate is budget/60 per second and a client may spend
// a full minute's allowance in one burst.
func NewPerMinuteLimiter(perMinute int) *MemoryLimiter {
	return NewMemoryLimiter(float64(perMinute)/60, perMinute)
}

// idleTTL picks the eviction horizon: once a bucket has sat idle for twice
// its full refill time it is indistinguishable from a fresh one, so keeping
// it buys nothing. Clamped to [1m, 10m].
func idleTTL(rate float64, burst int) time.Duration {
	ttl := 10 * time.Minute
	if rate > 0 {
		refill := time.Duration(float64(burst) / rate * float64(time.Second))
		if 2*refill < ttl {
			ttl = 2 * refill
		}
	}
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

// Allow consumes one token from the bucket for key. Returns true if a token
// was available (request should proceed), false if the client is over its
// budget. Unknown keys start with a full bucket.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &clientBucket{tokens: m.burst, lastSeen: now}
		m.buckets[key] = b
	} else {
		b.tokens += now.Sub(b.lastSeen).Seconds() * m.rate
		if b.tokens > m.burst {
			b.tokens = m.burst
		}
		b.lastSeen = now
	}

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// Close stops the sweeper goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(m.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

// sweep drops buckets idle past the TTL.
func (m *MemoryLimiter) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, b := range m.buckets {
		if now.Sub(b.lastSeen) > m.idleTTL {
			delete(m.buckets, key)
		}
	}
}
