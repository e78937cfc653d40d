package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket implements a token bucket rate limiter.
type bucket struct {
	capacity   int           // maximum tokens
	available  int           // current tokens
	window     time.Duration // refill window
	lastRefill time.Time     // last refill time
	inFlight   int           // requests in progress
	reason     string        // last reduction reason
}

// refill adds tokens based on elapsed time since last refill.
func (b *bucket) refill(now time.Time) {
	if b.window == 0 || b.capacity == 0 {
		return
	}

	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}

	// rate = capacity / window
	tokensToAdd := int(float64(b.capacity) * float64(elapsed) / float64(b.window))
	if tokensToAdd > 0 {
		b.available += tokensToAdd
		if b.available > b.capacity {
			b.available = b.capacity
		}
		b.lastRefill = now
	}
}

// nextToken returns how long until refill yields at least one token.
func (b *bucket) nextToken(now time.Time) time.Duration {
	perToken := b.window / time.Duration(b.capacity)
	wait := b.lastRefill.Add(perToken).Sub(now)
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// MemoryLimiter provides local rate limiting using token buckets.
// It is safe for concurrent use.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	closed  bool
	closeCh chan struct{}
	nowFunc func() time.Time // for testing
}

// NewMemoryLimiter creates a new in-memory rate limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		closeCh: make(chan struct{}),
		nowFunc: time.Now,
	}
}

// SetCapacity configures the rate limit for a resource. A non-positive
// capacity or window removes the limit.
func (m *MemoryLimiter) SetCapacity(resource string, capacity int, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	if capacity <= 0 || window <= 0 {
		delete(m.buckets, resource)
		return
	}

	if b, exists := m.buckets[resource]; exists {
		b.capacity = capacity
		b.window = window
		if b.available > capacity {
			b.available = capacity
		}
		return
	}
	m.buckets[resource] = &bucket{
		capacity:   capacity,
		available:  capacity, // start full
		window:     window,
		lastRefill: m.nowFunc(),
	}
}

// GetCapacity returns the current capacity info for a resource.
func (m *MemoryLimiter) GetCapacity(resource string) *Capacity {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, exists := m.buckets[resource]
	if !exists {
		return nil
	}

	b.refill(m.nowFunc())

	return &Capacity{
		Resource:    resource,
		Available:   b.available,
		Total:       b.capacity,
		Window:      b.window,
		InFlight:    b.inFlight,
		LastReduced: b.reason,
	}
}

// Acquire blocks until a token is available for the resource.
func (m *MemoryLimiter) Acquire(ctx context.Context, resource string) error {
	for {
		wait, err := m.take(resource)
		if err != nil || wait == 0 {
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-m.closeCh:
			timer.Stop()
			return ErrClosed
		case <-timer.C:
		}
	}
}

// take acquires a token if one is available. Otherwise it reports how long
// the caller should wait before trying again.
func (m *MemoryLimiter) take(resource string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	b, exists := m.buckets[resource]
	if !exists {
		return 0, ErrResourceUnknown
	}

	now := m.nowFunc()
	b.refill(now)
	if b.available > 0 {
		b.available--
		b.inFlight++
		return 0, nil
	}
	return b.nextToken(now), nil
}

// TryAcquire attempts to acquire a token without blocking.
func (m *MemoryLimiter) TryAcquire(resource string) bool {
	wait, err := m.take(resource)
	return err == nil && wait == 0
}

// Done marks an acquired request as finished.
func (m *MemoryLimiter) Done(resource string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, exists := m.buckets[resource]; exists && b.inFlight > 0 {
		b.inFlight--
	}
}

// Reduce lowers the capacity of a resource by 25%, never below one token.
func (m *MemoryLimiter) Reduce(resource string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, exists := m.buckets[resource]
	if !exists {
		return
	}

	newCapacity := int(float64(b.capacity) * 0.75)
	if newCapacity < 1 {
		newCapacity = 1
	}
	b.capacity = newCapacity
	if b.available > newCapacity {
		b.available = newCapacity
	}
	b.reason = reason
}

// Close shuts down the limiter.
func (m *MemoryLimiter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.closed = true
	close(m.closeCh)
	return nil
}

// Ensure MemoryLimiter implements RateLimiter.
var _ RateLimiter = (*MemoryLimiter)(nil)
