package shutdown

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/taskgate/logging"
)

// TestShutdownSingleHandler tests a shutdown with one handler.
func TestShutdownSingleHandler(t *testing.T) {
	coord := New()

	called := false
	coord.RegisterFunc("store", PhaseStores, func(ctx context.Context) error {
		called = true
		return nil
	})

	require.NoError(t, coord.ShutdownWithTimeout(time.Second))
	assert.True(t, called, "expected handler to be called")

	select {
	case <-coord.Done():
	default:
		t.Fatal("expected Done channel to be closed")
	}
	assert.NoError(t, coord.Err())

	result := coord.Result()
	require.NotNil(t, result)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "store", result.Results[0].Name)
	assert.False(t, result.Failed())
}

// TestPhaseOrder tests that lower phases run first and that registration
// order is kept within a phase's results.
func TestPhaseOrder(t *testing.T) {
	coord := New()

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	coord.RegisterFunc("telemetry", PhaseTelemetry, record("telemetry"))
	coord.RegisterFunc("gateway", PhaseTransport, record("gateway"))
	coord.RegisterFunc("store", PhaseStores, record("store"))
	coord.RegisterFunc("bind", PhaseBindings, record("bind"))

	require.NoError(t, coord.ShutdownWithTimeout(time.Second))

	want := []string{"bind", "store", "gateway", "telemetry"}
	assert.Equal(t, want, order)

	var names []string
	for _, hr := range coord.Result().Results {
		names = append(names, hr.Name)
	}
	assert.Equal(t, want, names)
}

// TestSamePhaseRunsConcurrently tests that handlers in one phase overlap.
func TestSamePhaseRunsConcurrently(t *testing.T) {
	coord := New()

	var running, peak int32
	slow := func(context.Context) error {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	}
	coord.RegisterFunc("gateway", PhaseTransport, slow)
	coord.RegisterFunc("bus", PhaseTransport, slow)
	coord.RegisterFunc("limiter", PhaseTransport, slow)

	require.NoError(t, coord.ShutdownWithTimeout(time.Second))
	assert.Equal(t, int32(3), atomic.LoadInt32(&peak))
}

// TestHandlerFailureContinues tests that a failing handler does not stop
// later phases and is reported.
func TestHandlerFailureContinues(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New()
	logger.SetOutput(&buf)
	coord := New(WithLogger(logger))

	boom := errors.New("boom")
	coord.RegisterFunc("store", PhaseStores, func(context.Context) error { return boom })
	later := false
	coord.RegisterFunc("gateway", PhaseTransport, func(context.Context) error {
		later = true
		return nil
	})

	err := coord.ShutdownWithTimeout(time.Second)
	require.ErrorIs(t, err, ErrHandlerFailed)
	assert.Contains(t, err.Error(), "store")
	assert.True(t, later, "expected later phase to run")

	assert.Equal(t, []string{"store"}, coord.Result().FailedHandlers())
	assert.Contains(t, buf.String(), "shutdown_handler_failed")
}

// TestTimeoutSkipsRemainingPhases tests that an expired context stops the
// next phase from starting.
func TestTimeoutSkipsRemainingPhases(t *testing.T) {
	coord := New()

	coord.RegisterFunc("bind", PhaseBindings, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	called := false
	coord.RegisterFunc("telemetry", PhaseTelemetry, func(context.Context) error {
		called = true
		return nil
	})

	err := coord.ShutdownWithTimeout(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, called, "expected later phase to be skipped")
}

// TestShutdownOnce tests that handlers run once and later calls report
// ErrAlreadyShutdown.
func TestShutdownOnce(t *testing.T) {
	coord := New()

	var calls int32
	coord.RegisterFunc("store", PhaseStores, func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	require.NoError(t, coord.ShutdownWithTimeout(0))
	assert.ErrorIs(t, coord.ShutdownWithTimeout(0), ErrAlreadyShutdown)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type closer struct{ closed bool }

func (c *closer) Close() error {
	c.closed = true
	return nil
}

// TestCloser tests the io.Closer adapter.
func TestCloser(t *testing.T) {
	coord := New(WithTimeout(time.Second))
	c := &closer{}
	coord.Register("bus", PhaseTransport, Closer(c))

	require.NoError(t, coord.ShutdownWithTimeout(0))
	assert.True(t, c.closed, "expected Close to be called")
}

// TestResultBeforeShutdown tests that Result and Err are empty until done.
func TestResultBeforeShutdown(t *testing.T) {
	coord := New()
	assert.Nil(t, coord.Result())
	assert.NoError(t, coord.Err())
}

// TestSignalContextCancel tests that the signal context ends with its parent.
func TestSignalContextCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := SignalContext(parent)
	defer stop()

	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected signal context to end with its parent")
	}
}
