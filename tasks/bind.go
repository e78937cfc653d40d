package tasks

import (
	"context"
	"sync"

	"github.com/vinayprograms/taskgate/session"
)

// SessionSource publishes session states.
type SessionSource interface {
	Subscribe() (<-chan session.State, func())
}

// Bind keeps the store in step with a session. The first page is fetched
// when the session becomes ready and the store is reset when the session
// stops being authenticated. Nothing is fetched while the session is still
// loading. A sign-in as a different user, or a new sign-in the binding
// never saw the sign-out for, resets the store and fetches the first page
// again. The returned function stops the binding and waits for it to exit.
func (s *Store) Bind(ctx context.Context, src SessionSource) func() {
	states, unsubscribe := src.Subscribe()
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var (
			ready, authenticated bool
			generation           uint64
		)
		for {
			select {
			case <-ctx.Done():
				return
			case st, ok := <-states:
				if !ok {
					return
				}
				// Intermediate states may have been replaced, so a changed
				// generation means the session was re-established.
				switched := authenticated && st.Authenticated && st.Generation != generation
				if authenticated && (!st.Authenticated || switched) {
					s.logger.Debug("session_ended_reset", map[string]interface{}{"generation": st.Generation})
					s.Reset()
				}
				if st.Ready() && (!ready || switched) {
					if err := s.List(ctx, WithPage(DefaultPage), WithLimit(s.pageSize)); err != nil {
						s.logger.Warn("initial_list_failed", map[string]interface{}{"error": err.Error()})
					}
				}
				ready = st.Ready()
				authenticated = st.Authenticated
				generation = st.Generation
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			unsubscribe()
			wg.Wait()
		})
	}
}
