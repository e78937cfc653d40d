package session

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vinayprograms/taskgate/apitest"
	"github.com/vinayprograms/taskgate/bus"
	"github.com/vinayprograms/taskgate/errors"
	"github.com/vinayprograms/taskgate/gateway"
)

const (
	email    = "ada@example.com"
	password = "analytical-engine"
)

func setup(t *testing.T, opts ...Option) (*apitest.Server, *gateway.Client, *Manager) {
	srv := apitest.New(t)
	srv.AddUser(email, password, "Ada Lovelace")

	client, err := gateway.New(srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	m := NewManager(client, opts...)
	t.Cleanup(m.Close)
	return srv, client, m
}

func TestManager_InitialState(t *testing.T) {
	_, _, m := setup(t)

	st := m.Snapshot()
	assert.Equal(t, PhaseUnknown, st.Phase)
	assert.True(t, st.IsLoading)
	assert.False(t, st.Authenticated)
	assert.Nil(t, st.User)
	assert.False(t, st.Ready())
}

func TestManager_VerifyAnonymous(t *testing.T) {
	srv, _, m := setup(t)

	require.NoError(t, m.VerifySession(context.Background()))

	st := m.Snapshot()
	assert.Equal(t, PhaseAnonymous, st.Phase)
	assert.False(t, st.IsLoading)
	assert.False(t, st.Authenticated)
	assert.Equal(t, 1, srv.Hits(apitest.RouteVerify))
	assert.Equal(t, 0, srv.Hits(apitest.RouteRefresh))
}

func TestManager_VerifyAfterLogin(t *testing.T) {
	_, _, m := setup(t)
	ctx := context.Background()

	require.NoError(t, m.Login(ctx, LoginInput{Email: email, Password: password}))
	require.NoError(t, m.VerifySession(ctx))

	st := m.Snapshot()
	assert.Equal(t, PhaseAuthenticated, st.Phase)
	require.NotNil(t, st.User)
	assert.Equal(t, email, st.User.Email)
	assert.Equal(t, "Ada Lovelace", st.User.FullName)
}

func TestManager_VerifyTransportFailure(t *testing.T) {
	srv, _, m := setup(t)
	srv.Fail(apitest.RouteVerify, 1, http.StatusServiceUnavailable, "Database is offline")

	err := m.VerifySession(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindServer, errors.KindOf(err))

	st := m.Snapshot()
	assert.Equal(t, PhaseAnonymous, st.Phase)
	assert.False(t, st.IsLoading)
}

func TestManager_Login(t *testing.T) {
	srv, _, m := setup(t)

	require.NoError(t, m.Login(context.Background(), LoginInput{Email: email, Password: password}))

	st := m.Snapshot()
	assert.Equal(t, PhaseAuthenticated, st.Phase)
	assert.True(t, st.Authenticated)
	assert.False(t, st.IsLoading)
	assert.NoError(t, st.LastError)
	require.NotNil(t, st.User)
	assert.Equal(t, email, st.User.Email)
	assert.Equal(t, 0, srv.Hits(apitest.RouteRefresh))
}

func TestManager_LoginFailure(t *testing.T) {
	srv, _, m := setup(t)

	err := m.Login(context.Background(), LoginInput{Email: email, Password: "wrong"})
	require.Error(t, err)
	assert.True(t, errors.IsAuth(err))
	assert.Equal(t, "Invalid email or password", err.Error())

	st := m.Snapshot()
	assert.Equal(t, PhaseAnonymous, st.Phase)
	assert.False(t, st.Authenticated)
	assert.Nil(t, st.User)
	assert.False(t, st.IsLoading)
	assert.Equal(t, err, st.LastError)
	assert.Equal(t, 0, srv.Hits(apitest.RouteRefresh), "login failures never refresh")
}

func TestManager_Signup(t *testing.T) {
	_, _, m := setup(t)

	err := m.Signup(context.Background(), SignupInput{Email: "grace@example.com", Password: "hopper-pass", FullName: "Grace Hopper"})
	require.NoError(t, err)

	st := m.Snapshot()
	assert.True(t, st.Authenticated)
	assert.Equal(t, "Grace Hopper", st.User.FullName)
}

func TestManager_SignupValidation(t *testing.T) {
	_, _, m := setup(t)

	err := m.Signup(context.Background(), SignupInput{Email: "grace@example.com", Password: "short"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))
	assert.Equal(t, 422, errors.Status(err))
	assert.Equal(t, err, m.Snapshot().LastError)
}

func TestManager_LogoutUnconditional(t *testing.T) {
	srv, client, m := setup(t)
	ctx := context.Background()
	require.NoError(t, m.Login(ctx, LoginInput{Email: email, Password: password}))

	srv.Fail(apitest.RouteLogout, 1, http.StatusInternalServerError, "boom")
	m.Logout(ctx)

	st := m.Snapshot()
	assert.Equal(t, PhaseAnonymous, st.Phase)
	assert.False(t, st.Authenticated)
	assert.Nil(t, st.User)
	assert.False(t, st.IsLoading)
	assert.NoError(t, st.LastError)

	// The credential was reset, so the old session no longer verifies.
	_, err := client.Call(ctx, http.MethodGet, "/auth/me", nil, gateway.SkipRefresh())
	assert.True(t, errors.IsAuth(err))
}

func TestManager_LogoutNetworkFailure(t *testing.T) {
	srv, _, m := setup(t)
	ctx := context.Background()
	require.NoError(t, m.Login(ctx, LoginInput{Email: email, Password: password}))

	srv.Close()
	m.Logout(ctx)

	st := m.Snapshot()
	assert.Equal(t, PhaseAnonymous, st.Phase)
	assert.Nil(t, st.User)
}

func TestManager_RefreshFailureSignsOut(t *testing.T) {
	srv, client, m := setup(t)
	ctx := context.Background()
	require.NoError(t, m.Login(ctx, LoginInput{Email: email, Password: password}))

	states, stop := m.Subscribe()
	defer stop()
	<-states

	srv.RevokeSessions()
	_, err := client.Call(ctx, http.MethodGet, "/tasks", nil)
	require.Error(t, err)
	assert.True(t, errors.IsAuth(err))

	st := m.Snapshot()
	assert.Equal(t, PhaseAnonymous, st.Phase)
	assert.False(t, st.Authenticated)
	assert.Nil(t, st.User)
	require.Error(t, st.LastError)
	assert.True(t, errors.IsAuth(st.LastError))

	latest := <-states
	assert.Equal(t, PhaseAnonymous, latest.Phase)
}

func TestManager_Refresh(t *testing.T) {
	srv, _, m := setup(t)
	ctx := context.Background()
	require.NoError(t, m.Login(ctx, LoginInput{Email: email, Password: password}))

	srv.ExpireAccess()
	require.NoError(t, m.Refresh(ctx))

	st := m.Snapshot()
	assert.Equal(t, PhaseAuthenticated, st.Phase)
	assert.Equal(t, email, st.User.Email)
	assert.Equal(t, 1, srv.Hits(apitest.RouteRefresh))
}

func TestManager_Generation(t *testing.T) {
	srv, _, m := setup(t)
	srv.AddUser("grace@example.com", password, "Grace Hopper")
	ctx := context.Background()
	assert.Zero(t, m.Snapshot().Generation)

	require.NoError(t, m.Login(ctx, LoginInput{Email: email, Password: password}))
	assert.Equal(t, uint64(1), m.Snapshot().Generation)

	// Renewing or re-verifying the same session keeps its generation.
	require.NoError(t, m.Refresh(ctx))
	require.NoError(t, m.VerifySession(ctx))
	assert.Equal(t, uint64(1), m.Snapshot().Generation)

	require.NoError(t, m.Login(ctx, LoginInput{Email: "grace@example.com", Password: password}))
	assert.Equal(t, uint64(2), m.Snapshot().Generation)

	m.Logout(ctx)
	assert.Equal(t, uint64(2), m.Snapshot().Generation)

	require.NoError(t, m.Login(ctx, LoginInput{Email: "grace@example.com", Password: password}))
	assert.Equal(t, uint64(3), m.Snapshot().Generation)
}

func TestManager_SubscribeLatestValue(t *testing.T) {
	_, _, m := setup(t)
	ctx := context.Background()

	states, stop := m.Subscribe()
	first := <-states
	assert.Equal(t, PhaseUnknown, first.Phase)

	require.NoError(t, m.Login(ctx, LoginInput{Email: email, Password: password}))

	// Intermediate states were replaced by the newest one.
	select {
	case st := <-states:
		assert.Equal(t, PhaseAuthenticated, st.Phase)
		assert.False(t, st.IsLoading)
	case <-time.After(time.Second):
		t.Fatal("no state delivered")
	}

	stop()
	stop()
	_, open := <-states
	assert.False(t, open)
}

func TestManager_SnapshotIsCopy(t *testing.T) {
	_, _, m := setup(t)
	require.NoError(t, m.Login(context.Background(), LoginInput{Email: email, Password: password}))

	st := m.Snapshot()
	st.User.FullName = "changed"
	assert.Equal(t, "Ada Lovelace", m.Snapshot().User.FullName)
}

func TestManager_CloseEndsSubscriptions(t *testing.T) {
	_, _, m := setup(t)
	states, _ := m.Subscribe()
	<-states

	m.Close()
	_, open := <-states
	assert.False(t, open)

	late, _ := m.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestManager_PublishesTransitions(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	sub, err := b.Subscribe("test.session")
	require.NoError(t, err)

	_, _, m := setup(t, WithPublisher(bus.NewPublisher(b, "test")))
	require.NoError(t, m.Login(context.Background(), LoginInput{Email: email, Password: password}))

	select {
	case msg := <-sub.Messages():
		ev, err := bus.DecodeEvent(msg)
		require.NoError(t, err)
		assert.Equal(t, "session.changed", ev.Type)
		var data changeEvent
		require.NoError(t, ev.DecodeData(&data))
		assert.Equal(t, "unknown", data.From)
		assert.Equal(t, "authenticated", data.To)
		assert.True(t, data.Authenticated)
		assert.NotEmpty(t, data.UserID)
	case <-time.After(time.Second):
		t.Fatal("no session event published")
	}
}
