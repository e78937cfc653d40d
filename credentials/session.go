package credentials

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// SessionCredential is the opaque credential the gateway attaches to every
// request. The server sets and rotates it through Set-Cookie; callers never
// read token material from it.
type SessionCredential interface {
	http.CookieJar

	// Reset discards everything the server has set.
	Reset()
}

// CookieSession is a SessionCredential backed by an in-memory cookie jar
// with public suffix domain rules.
type CookieSession struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

var _ SessionCredential = (*CookieSession)(nil)

// NewCookieSession creates an empty cookie session.
func NewCookieSession() (*CookieSession, error) {
	jar, err := newJar()
	if err != nil {
		return nil, err
	}
	return &CookieSession{jar: jar}, nil
}

func newJar() (*cookiejar.Jar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// SetCookies implements http.CookieJar.
func (s *CookieSession) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.RLock()
	jar := s.jar
	s.mu.RUnlock()
	jar.SetCookies(u, cookies)
}

// Cookies implements http.CookieJar.
func (s *CookieSession) Cookies(u *url.URL) []*http.Cookie {
	s.mu.RLock()
	jar := s.jar
	s.mu.RUnlock()
	return jar.Cookies(u)
}

// Reset replaces the jar with an empty one.
func (s *CookieSession) Reset() {
	jar, err := newJar()
	if err != nil {
		// cookiejar.New only fails on invalid options
		return
	}
	s.mu.Lock()
	s.jar = jar
	s.mu.Unlock()
}

// Present reports whether any credential would be sent to u.
func (s *CookieSession) Present(u *url.URL) bool {
	return len(s.Cookies(u)) > 0
}
