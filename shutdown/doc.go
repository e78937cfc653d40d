// Package shutdown tears down taskctl's components in dependency order.
//
// Handlers are registered with a phase. Lower phases run first and handlers
// within a phase run concurrently:
//
//	coord := shutdown.New(shutdown.WithLogger(logger))
//	coord.RegisterFunc("bind", shutdown.PhaseBindings, func(ctx context.Context) error {
//	    stop()
//	    return nil
//	})
//	coord.Register("store", shutdown.PhaseStores, shutdown.Closer(store))
//	coord.Register("bus", shutdown.PhaseTransport, shutdown.Closer(b))
//	coord.RegisterFunc("telemetry", shutdown.PhaseTelemetry, provider.Shutdown)
//
//	ctx, stop := shutdown.SignalContext(context.Background())
//	defer stop()
//	<-ctx.Done()
//	err := coord.ShutdownWithTimeout(0)
//
// A phase is not started once the shutdown context has ended; Shutdown then
// returns ErrTimeout.
package shutdown
