// Package ratelimit provides the optional client-side throttle the gateway
// applies before sending requests.
//
// The MemoryLimiter uses token buckets keyed by resource name:
//
//	limiter := ratelimit.NewMemoryLimiter()
//	limiter.SetCapacity("api", 60, time.Minute) // 60 requests per minute
//
//	if err := limiter.Acquire(ctx, "api"); err != nil {
//	    return err // context ended while waiting
//	}
//	defer limiter.Done("api")
//
// When the server answers 429 the gateway calls Reduce, which lowers the
// local capacity by a quarter.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed          = errors.New("limiter closed")
	ErrResourceUnknown = errors.New("unknown resource")
)

// RateLimiter throttles requests to named resources.
type RateLimiter interface {
	// Acquire blocks until a token is available for the resource.
	// Returns ctx.Err() if the context ends first.
	// Returns ErrResourceUnknown if the resource has no configured capacity.
	Acquire(ctx context.Context, resource string) error

	// TryAcquire attempts to acquire a token without blocking.
	TryAcquire(resource string) bool

	// Done marks a request acquired earlier as finished. Tokens are only
	// returned by time-based refill.
	Done(resource string)

	// SetCapacity configures the rate limit for a resource.
	// capacity is the number of tokens per window.
	SetCapacity(resource string, capacity int, window time.Duration)

	// Reduce lowers the capacity of a resource after the server pushed back.
	Reduce(resource string, reason string)

	// GetCapacity returns the current capacity info for a resource.
	// Returns nil if the resource is unknown.
	GetCapacity(resource string) *Capacity

	// Close shuts down the limiter and wakes any waiters.
	Close() error
}

// Capacity describes the rate limit configuration for a resource.
type Capacity struct {
	// Resource is the unique identifier for the rate-limited resource.
	Resource string

	// Available is the current number of available tokens.
	Available int

	// Total is the maximum capacity (tokens per window).
	Total int

	// Window is the refill period.
	Window time.Duration

	// InFlight counts acquired requests not yet marked Done.
	InFlight int

	// LastReduced records why capacity was last lowered, if ever.
	LastReduced string
}
