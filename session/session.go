// Package session tracks whether the client holds a valid session with the
// task API and who the signed-in user is.
//
// A Manager starts in PhaseUnknown with IsLoading set, so consumers gated on
// the session wait until VerifySession (or a login) settles it:
//
//	Unknown ──► Verifying ──► Authenticated ──► RefreshFailed ──► Anonymous
//	                    └───► Anonymous ◄──────── (logout) ◄──┘
//
// Any phase can re-enter Verifying or Authenticated. The Manager never sees
// token material: the gateway's credential carries it and the Manager only
// learns about validity from verify, login and refresh outcomes.
package session

import (
	"context"
	"time"

	"github.com/vinayprograms/taskgate/gateway"
)

// Phase is the session lifecycle position.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseVerifying
	PhaseAuthenticated
	PhaseAnonymous
	PhaseRefreshFailed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseUnknown:
		return "unknown"
	case PhaseVerifying:
		return "verifying"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseAnonymous:
		return "anonymous"
	case PhaseRefreshFailed:
		return "refresh_failed"
	default:
		return "invalid"
	}
}

// User is the signed-in user's profile.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.AvatarURL != nil {
		avatar := *u.AvatarURL
		c.AvatarURL = &avatar
	}
	return &c
}

// State is a snapshot of the session. User is non-nil iff Authenticated.
//
// Generation increases every time a session is established for a user,
// whether by a new sign-in or by switching users. Consumers that only see
// the latest state can compare generations to notice a sign-out followed
// by a sign-in they never observed.
type State struct {
	Phase         Phase
	Authenticated bool
	User          *User
	IsLoading     bool
	LastError     error
	Generation    uint64
}

// Ready reports whether gated consumers may load data for this state.
func (s State) Ready() bool {
	return s.Authenticated && !s.IsLoading
}

func (s State) clone() State {
	s.User = s.User.clone()
	return s
}

// LoginInput holds sign-in credentials.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupInput holds the fields for a new account.
type SignupInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// Gateway is the subset of the gateway client the Manager depends on.
type Gateway interface {
	Call(ctx context.Context, method, endpoint string, body interface{}, opts ...gateway.CallOption) (*gateway.Response, error)
	EnsureFreshSession(ctx context.Context) (*gateway.Response, error)
	OnSessionExpired(fn func(error)) func()
	ResetCredential()
}

// authResponse is the body of login, register and refresh. Only the user
// is read; tokens travel in cookies.
type authResponse struct {
	User *User `json:"user"`
}

type verifyResponse struct {
	Authenticated bool  `json:"authenticated"`
	User          *User `json:"user"`
}

// changeEvent is the bus payload for a session transition.
type changeEvent struct {
	From          string `json:"from"`
	To            string `json:"to"`
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Error         string `json:"error,omitempty"`
}
