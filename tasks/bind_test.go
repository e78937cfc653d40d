package tasks

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/taskgate/apitest"
	"github.com/vinayprograms/taskgate/session"
)

func TestBind_ListsOnceWhenSessionBecomesReady(t *testing.T) {
	f := newFixture(t)
	f.seed("first")
	ctx := context.Background()

	stop := f.store.Bind(ctx, f.sessions)
	defer stop()

	// Verifying and anonymous sessions never load tasks.
	require.NoError(t, f.sessions.VerifySession(ctx))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, f.srv.Hits(apitest.RouteList))

	f.login(t)
	require.Eventually(t, func() bool {
		return len(f.store.Snapshot().Tasks) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.srv.Hits(apitest.RouteList))
	q := f.srv.LastQuery(apitest.RouteList)
	assert.Equal(t, "0", q.Get("skip"))
	assert.Equal(t, "20", q.Get("limit"))
}

func TestBind_ResetsOnSignOut(t *testing.T) {
	f := newFixture(t)
	f.seed("private")
	ctx := context.Background()

	stop := f.store.Bind(ctx, f.sessions)
	defer stop()

	f.login(t)
	require.Eventually(t, func() bool {
		return len(f.store.Snapshot().Tasks) == 1
	}, time.Second, 5*time.Millisecond)
	f.store.SetFilter(WithPriority(PriorityHigh))

	f.sessions.Logout(ctx)
	require.Eventually(t, func() bool {
		st := f.store.Snapshot()
		return len(st.Tasks) == 0 && st.Filters == Filters{}
	}, time.Second, 5*time.Millisecond)
}

func TestBind_ReloadsForNewUser(t *testing.T) {
	f := newFixture(t)
	f.seed("ada's task")
	f.srv.AddUser("grace@example.com", password, "Grace Hopper")
	f.srv.AddTask("grace@example.com", "grace's task", "", "")
	ctx := context.Background()

	stop := f.store.Bind(ctx, f.sessions)
	defer stop()

	// Hold the first page so the sign-out and the next sign-in collapse
	// into a single state on the binding's channel.
	release := f.srv.Block(apitest.RouteList)
	f.login(t)
	require.Eventually(t, func() bool {
		return f.srv.Hits(apitest.RouteList) == 1
	}, time.Second, 5*time.Millisecond)

	f.sessions.Logout(ctx)
	require.NoError(t, f.sessions.Login(ctx, session.LoginInput{Email: "grace@example.com", Password: password}))
	release()

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"grace's task"}, titles(f.store.Snapshot().Tasks))
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, f.srv.Hits(apitest.RouteList))
}

func TestBind_GenerationChangeResetsAndLists(t *testing.T) {
	var (
		mu    sync.Mutex
		lists int
	)
	store, err := NewStore(&fakeBackend{
		list: func(ctx context.Context, q Query) (*Page, error) {
			mu.Lock()
			lists++
			n := lists
			mu.Unlock()
			return pageOf(newTask(fmt.Sprintf("t%d", n), "page", 0)), nil
		},
	})
	require.NoError(t, err)
	defer store.Close()

	src := &stubSource{ch: make(chan session.State)}
	stop := store.Bind(context.Background(), src)

	ready := func(userID string, generation uint64) session.State {
		return session.State{
			Phase:         session.PhaseAuthenticated,
			Authenticated: true,
			User:          &session.User{ID: userID},
			Generation:    generation,
		}
	}
	src.ch <- ready("u1", 1)
	src.ch <- ready("u2", 2)
	// Same generation again, as after a refresh: nothing to reload.
	src.ch <- ready("u2", 2)
	close(src.ch)
	stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, lists)
	assert.Equal(t, []string{"t2"}, ids(store.Snapshot().Tasks))
}

func TestBind_StopEndsBinding(t *testing.T) {
	f := newFixture(t)
	f.seed("ignored")

	stop := f.store.Bind(context.Background(), f.sessions)
	stop()
	stop()

	f.login(t)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, f.srv.Hits(apitest.RouteList))
	assert.Empty(t, f.store.Snapshot().Tasks)
}

type stubSource struct {
	ch chan session.State
}

func (s *stubSource) Subscribe() (<-chan session.State, func()) {
	return s.ch, func() {}
}

func TestBind_ClosedSourceEndsBinding(t *testing.T) {
	store, err := NewStore(&fakeBackend{})
	require.NoError(t, err)
	defer store.Close()

	src := &stubSource{ch: make(chan session.State)}
	stop := store.Bind(context.Background(), src)
	close(src.ch)

	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("binding did not exit")
	}
}
