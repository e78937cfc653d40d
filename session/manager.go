package session

import (
	"context"
	"net/http"
	"sync"

	"github.com/vinayprograms/taskgate/bus"
	"github.com/vinayprograms/taskgate/errors"
	"github.com/vinayprograms/taskgate/gateway"
	"github.com/vinayprograms/taskgate/logging"
)

// Endpoints used by the Manager.
const (
	EndpointLogin    = "/auth/login"
	EndpointRegister = "/auth/register"
	EndpointLogout   = "/auth/logout"
	EndpointVerify   = "/auth/verify"
)

// EventTopic is the bus topic for session transitions.
const EventTopic = "session"

// Manager owns the session state and drives it from gateway outcomes.
type Manager struct {
	gw        Gateway
	logger    *logging.Logger
	publisher *bus.Publisher
	unhook    func()

	mu     sync.Mutex
	state  State
	subs   map[uint64]chan State
	subSeq uint64
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = l.WithComponent("session")
	}
}

// WithPublisher publishes every transition on the "session" topic.
func WithPublisher(p *bus.Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// NewManager creates a Manager in PhaseUnknown with IsLoading set and
// registers for the gateway's session expiry notifications.
func NewManager(gw Gateway, opts ...Option) *Manager {
	m := &Manager{
		gw:     gw,
		logger: logging.Discard(),
		state:  State{Phase: PhaseUnknown, IsLoading: true},
		subs:   make(map[uint64]chan State),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.unhook = gw.OnSessionExpired(m.expired)
	return m
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Subscribe returns a channel that receives the current state immediately
// and the newest state after every change. Slow readers skip intermediate
// states. The returned function ends the subscription.
func (m *Manager) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	m.subSeq++
	id := m.subSeq
	m.subs[id] = ch
	ch <- m.state.clone()
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
		})
	}
}

// Close stops listening for expiry and ends every subscription.
func (m *Manager) Close() {
	m.unhook()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
}

// VerifySession asks the server whether the current credential is a valid
// session. Any outcome other than an authenticated user leaves the session
// anonymous; a transport failure is also returned. IsLoading is always
// cleared.
func (m *Manager) VerifySession(ctx context.Context) error {
	m.update(ctx, func(s *State) {
		s.Phase = PhaseVerifying
		s.IsLoading = true
	})

	resp, err := m.gw.Call(ctx, http.MethodGet, EndpointVerify, nil, gateway.SkipRefresh())
	var body verifyResponse
	if err == nil {
		err = resp.Decode(&body)
	}

	m.update(ctx, func(s *State) {
		s.IsLoading = false
		if err == nil && body.Authenticated && body.User != nil {
			s.Phase = PhaseAuthenticated
			s.Authenticated = true
			s.User = body.User
			return
		}
		s.Phase = PhaseAnonymous
		s.Authenticated = false
		s.User = nil
	})
	return err
}

// Login signs in with credentials.
func (m *Manager) Login(ctx context.Context, in LoginInput) error {
	return m.authenticate(ctx, EndpointLogin, in)
}

// Signup creates an account and signs in to it.
func (m *Manager) Signup(ctx context.Context, in SignupInput) error {
	return m.authenticate(ctx, EndpointRegister, in)
}

func (m *Manager) authenticate(ctx context.Context, endpoint string, body interface{}) error {
	m.update(ctx, func(s *State) {
		s.IsLoading = true
		s.LastError = nil
	})

	resp, err := m.gw.Call(ctx, http.MethodPost, endpoint, body, gateway.SkipAuth())
	var out authResponse
	if err == nil {
		err = resp.Decode(&out)
	}
	if err == nil && out.User == nil {
		err = errors.New(errors.ErrCodeDecode, "response has no user", errors.WithRequest(http.MethodPost, endpoint))
	}

	m.update(ctx, func(s *State) {
		s.IsLoading = false
		if err != nil {
			s.Phase = PhaseAnonymous
			s.Authenticated = false
			s.User = nil
			s.LastError = err
			return
		}
		s.Phase = PhaseAuthenticated
		s.Authenticated = true
		s.User = out.User
	})
	return err
}

// Logout ends the session. The local session is cleared and the credential
// reset whatever the server answers, so Logout never fails.
func (m *Manager) Logout(ctx context.Context) {
	m.update(ctx, func(s *State) {
		s.IsLoading = true
	})

	if _, err := m.gw.Call(ctx, http.MethodPost, EndpointLogout, nil, gateway.SkipRefresh()); err != nil {
		m.logger.Warn("logout_failed", map[string]interface{}{"error": err.Error()})
	}
	m.gw.ResetCredential()

	m.update(ctx, func(s *State) {
		*s = State{Phase: PhaseAnonymous}
	})
}

// Refresh renews the session and updates the user from the refresh
// response. A failed refresh reaches the Manager through the gateway's
// expiry hook, which signs the session out.
func (m *Manager) Refresh(ctx context.Context) error {
	resp, err := m.gw.EnsureFreshSession(ctx)
	if err != nil {
		return err
	}
	var out authResponse
	if err := resp.Decode(&out); err != nil {
		return err
	}
	if out.User != nil {
		m.update(ctx, func(s *State) {
			s.Phase = PhaseAuthenticated
			s.Authenticated = true
			s.User = out.User
			s.LastError = nil
		})
	}
	return nil
}

// expired handles a failed refresh cycle reported by the gateway.
func (m *Manager) expired(err error) {
	ctx := context.Background()
	m.update(ctx, func(s *State) {
		s.Phase = PhaseRefreshFailed
		s.LastError = err
	})
	m.update(ctx, func(s *State) {
		s.Phase = PhaseAnonymous
		s.Authenticated = false
		s.User = nil
		s.IsLoading = false
	})
}

// update applies fn to the state and notifies subscribers. Phase changes
// are also logged and published.
func (m *Manager) update(ctx context.Context, fn func(*State)) {
	m.mu.Lock()
	prev := m.state
	fn(&m.state)
	m.state.Generation = prev.Generation
	if m.state.Authenticated && (!prev.Authenticated || userID(prev.User) != userID(m.state.User)) {
		m.state.Generation++
	}
	from := prev.Phase
	st := m.state.clone()
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- st
	}
	m.mu.Unlock()

	if from == st.Phase {
		return
	}
	m.logger.SessionTransition(from.String(), st.Phase.String())

	ev := changeEvent{
		From:          from.String(),
		To:            st.Phase.String(),
		Authenticated: st.Authenticated,
	}
	if st.User != nil {
		ev.UserID = st.User.ID
	}
	if st.LastError != nil {
		ev.Error = st.LastError.Error()
	}
	if err := m.publisher.Publish(ctx, EventTopic, "session.changed", ev); err != nil {
		m.logger.Warn("publish_failed", map[string]interface{}{"topic": EventTopic, "error": err.Error()})
	}
}

func userID(u *User) string {
	if u == nil {
		return ""
	}
	return u.ID
}
