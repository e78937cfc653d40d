// Package apitest runs an in-process fake of the task API for tests.
//
// The server keeps users and tasks in memory, issues HS256 access and
// refresh tokens as cookies, and answers with the same JSON shapes and
// error envelopes as the real service. Routes are addressed by their mux
// pattern, e.g. "POST /auth/refresh" or "PATCH /tasks/{id}", when counting
// hits or injecting faults.
//
//	srv := apitest.New(t)
//	srv.AddUser("ada@example.com", "secret-pass", "Ada Lovelace")
//	srv.Fail("PATCH /tasks/{id}", 1, http.StatusInternalServerError, "boom")
package apitest

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// Route patterns served by the fake.
const (
	RouteRegister = "POST /auth/register"
	RouteLogin    = "POST /auth/login"
	RouteRefresh  = "POST /auth/refresh"
	RouteLogout   = "POST /auth/logout"
	RouteVerify   = "GET /auth/verify"
	RouteMe       = "GET /auth/me"
	RouteList     = "GET /tasks"
	RouteCreate   = "POST /tasks"
	RouteGet      = "GET /tasks/{id}"
	RouteUpdate   = "PATCH /tasks/{id}"
	RouteDelete   = "DELETE /tasks/{id}"
)

// Cookie names carrying the session.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

type fault struct {
	remaining int
	status    int
	detail    string
	code      string
}

// Server is a fake task API.
type Server struct {
	*httptest.Server

	tokens *tokenIssuer

	mu      sync.Mutex
	users   map[string]*User // by email
	byID    map[string]*User
	tasks   []*Task // newest first
	hits    map[string]int
	queries map[string][]url.Values
	faults  map[string]*fault
	delays  map[string]time.Duration
	blocks  map[string]chan struct{}
	last    time.Time

	omitPages bool
}

// New starts a fake API server that is closed when the test ends.
func New(t testing.TB) *Server {
	s := NewServer()
	t.Cleanup(s.Close)
	return s
}

// NewServer starts a fake API server. The caller must Close it.
func NewServer() *Server {
	s := &Server{
		tokens:  newTokenIssuer(uuid.NewString()),
		users:   make(map[string]*User),
		byID:    make(map[string]*User),
		hits:    make(map[string]int),
		queries: make(map[string][]url.Values),
		faults:  make(map[string]*fault),
		delays:  make(map[string]time.Duration),
		blocks:  make(map[string]chan struct{}),
	}

	mux := http.NewServeMux()
	s.handle(mux, RouteRegister, s.handleRegister)
	s.handle(mux, RouteLogin, s.handleLogin)
	s.handle(mux, RouteRefresh, s.handleRefresh)
	s.handle(mux, RouteLogout, s.handleLogout)
	s.handle(mux, RouteVerify, s.handleVerify)
	s.handle(mux, RouteMe, s.authenticated(s.handleMe))
	s.handle(mux, RouteList, s.authenticated(s.handleList))
	s.handle(mux, RouteCreate, s.authenticated(s.handleCreate))
	s.handle(mux, RouteGet, s.authenticated(s.handleGet))
	s.handle(mux, RouteUpdate, s.authenticated(s.handleUpdate))
	s.handle(mux, RouteDelete, s.authenticated(s.handleDelete))

	s.Server = httptest.NewServer(mux)
	return s
}

// handle registers h under pattern behind the fault, delay and block hooks.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[pattern]++
		s.queries[pattern] = append(s.queries[pattern], r.URL.Query())
		delay := s.delays[pattern]
		block := s.blocks[pattern]
		var injected *fault
		if f := s.faults[pattern]; f != nil && f.remaining != 0 {
			if f.remaining > 0 {
				f.remaining--
			}
			copied := *f
			injected = &copied
		}
		s.mu.Unlock()

		if block != nil {
			select {
			case <-block:
			case <-r.Context().Done():
				return
			}
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if injected != nil {
			writeError(w, injected.status, injected.detail, injected.code)
			return
		}
		h(w, r)
	})
}

// Hits returns how many requests reached route.
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// Queries returns the query strings of every request on route, oldest first.
func (s *Server) Queries(route string) []url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]url.Values, len(s.queries[route]))
	copy(out, s.queries[route])
	return out
}

// LastQuery returns the query of the latest request on route, or nil.
func (s *Server) LastQuery(route string) url.Values {
	qs := s.Queries(route)
	if len(qs) == 0 {
		return nil
	}
	return qs[len(qs)-1]
}

// ResetCounters clears hit counts and recorded queries.
func (s *Server) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = make(map[string]int)
	s.queries = make(map[string][]url.Values)
}

// Fail makes the next n requests on route answer status with detail as the
// error message. A negative n fails every request until Recover.
func (s *Server) Fail(route string, n int, status int, detail string) {
	s.FailWithCode(route, n, status, detail, "")
}

// FailWithCode is Fail with an error_code in the envelope.
func (s *Server) FailWithCode(route string, n int, status int, detail, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[route] = &fault{remaining: n, status: status, detail: detail, code: code}
}

// Recover removes any fault on route.
func (s *Server) Recover(route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.faults, route)
}

// Delay holds every request on route for d before handling it.
func (s *Server) Delay(route string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[route] = d
}

// Block holds requests on route until the returned release function is
// called. Release is idempotent.
func (s *Server) Block(route string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	if old := s.blocks[route]; old != nil {
		close(old)
	}
	s.blocks[route] = ch
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.blocks[route] == ch {
				delete(s.blocks, route)
				close(ch)
			}
		})
	}
}

// Close releases blocked requests and shuts the server down.
func (s *Server) Close() {
	s.mu.Lock()
	for route, ch := range s.blocks {
		close(ch)
		delete(s.blocks, route)
	}
	s.mu.Unlock()
	s.Server.Close()
}

// ExpireAccess invalidates every access token issued so far. Refresh tokens
// stay valid, so the next refresh succeeds.
func (s *Server) ExpireAccess() {
	s.tokens.expireAccess()
}

// RevokeSessions invalidates every access and refresh token issued so far.
func (s *Server) RevokeSessions() {
	s.tokens.revokeAll()
}

// now returns a strictly increasing clock so updated_at orders writes.
func (s *Server) now() time.Time {
	t := time.Now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}
