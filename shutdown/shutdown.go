package shutdown

import (
	"context"
	"errors"
	"io"
	"time"
)

// Common errors.
var (
	// ErrAlreadyShutdown indicates shutdown was already initiated.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrHandlerFailed indicates one or more handlers failed during shutdown.
	ErrHandlerFailed = errors.New("one or more handlers failed")
)

// Phases used by taskctl. Lower phases run first.
const (
	// PhaseBindings stops goroutines that feed stores: session bindings and
	// event watchers.
	PhaseBindings = 10

	// PhaseStores closes the task store and session manager, ending their
	// subscriptions.
	PhaseStores = 20

	// PhaseTransport closes the gateway, rate limiter and event bus.
	PhaseTransport = 30

	// PhaseTelemetry flushes and stops trace export.
	PhaseTelemetry = 40
)

// Handler is implemented by components that need an orderly stop.
type Handler interface {
	// OnShutdown releases the component. ctx ends when the shutdown
	// timeout is reached.
	OnShutdown(ctx context.Context) error
}

// Func adapts a function to Handler.
type Func func(ctx context.Context) error

// OnShutdown implements Handler.
func (f Func) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// Closer adapts an io.Closer to Handler.
func Closer(c io.Closer) Handler {
	return Func(func(ctx context.Context) error {
		return c.Close()
	})
}

// HandlerResult contains the result of a single handler's shutdown.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result contains the complete shutdown result.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult

	// Err is the overall error, nil if every handler succeeded.
	Err error
}

// Failed returns true if any handler failed or the shutdown timed out.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of handlers that failed.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

type registration struct {
	name    string
	handler Handler
	phase   int
	seq     int
}
