package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vinayprograms/taskgate/credentials"
	"github.com/vinayprograms/taskgate/logging"
	"github.com/vinayprograms/taskgate/ratelimit"
	"github.com/vinayprograms/taskgate/telemetry"
)

// Defaults for a new Client.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultRefreshEndpoint = "/auth/refresh"
	RateLimitResource      = "api"
)

// Client performs authenticated calls against the task API. It owns the
// session credential and the refresh coordinator, so each Client refreshes
// independently of any other.
type Client struct {
	baseURL     *url.URL
	http        *http.Client
	cred        credentials.SessionCredential
	timeout     time.Duration
	refreshPath string

	logger  *logging.Logger
	tracer  *telemetry.Tracer
	limiter ratelimit.RateLimiter

	refreshGroup singleflight.Group

	hooksMu sync.RWMutex
	hooks   map[uint64]func(error)
	hookSeq uint64

	refreshStarted atomic.Int64
	refreshFailed  atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCredential sets the session credential. By default a fresh cookie
// session is created.
func WithCredential(cred credentials.SessionCredential) Option {
	return func(c *Client) {
		c.cred = cred
	}
}

// WithTransport sets the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.Transport = rt
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.logger = l.WithComponent("gateway")
	}
}

// WithTracer sets the tracer. Defaults to the global tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

// WithRateLimiter throttles sends through limiter using RateLimitResource.
// The resource must already have a capacity configured.
func WithRateLimiter(limiter ratelimit.RateLimiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithRefreshEndpoint overrides the session refresh endpoint.
func WithRefreshEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.refreshPath = endpoint
		}
	}
}

// New creates a Client for the API at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", baseURL)
	}

	c := &Client{
		baseURL:     u,
		http:        &http.Client{},
		timeout:     DefaultTimeout,
		refreshPath: DefaultRefreshEndpoint,
		logger:      logging.Discard(),
		hooks:       make(map[uint64]func(error)),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.cred == nil {
		sess, err := credentials.NewCookieSession()
		if err != nil {
			return nil, fmt.Errorf("create session credential: %w", err)
		}
		c.cred = sess
	}
	c.http.Jar = c.cred
	if c.tracer == nil {
		c.tracer = telemetry.GetTracer()
	}
	return c, nil
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Timeout returns the per-attempt timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// ResetCredential discards the session credential, e.g. on sign out.
func (c *Client) ResetCredential() {
	c.cred.Reset()
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// OnSessionExpired registers fn to run once for every failed refresh cycle.
// The returned function removes the hook.
func (c *Client) OnSessionExpired(fn func(error)) func() {
	c.hooksMu.Lock()
	c.hookSeq++
	id := c.hookSeq
	c.hooks[id] = fn
	c.hooksMu.Unlock()

	return func() {
		c.hooksMu.Lock()
		delete(c.hooks, id)
		c.hooksMu.Unlock()
	}
}

func (c *Client) notifyExpired(err error) {
	c.hooksMu.RLock()
	hooks := make([]func(error), 0, len(c.hooks))
	for _, fn := range c.hooks {
		hooks = append(hooks, fn)
	}
	c.hooksMu.RUnlock()

	for _, fn := range hooks {
		fn(err)
	}
}

// RefreshStats counts refresh calls made by a Client.
type RefreshStats struct {
	Started int64
	Failed  int64
}

// RefreshStats returns how many refresh calls were started and how many
// failed.
func (c *Client) RefreshStats() RefreshStats {
	return RefreshStats{
		Started: c.refreshStarted.Load(),
		Failed:  c.refreshFailed.Load(),
	}
}

func (c *Client) resolve(endpoint string, query url.Values) (string, error) {
	ref, err := url.Parse(strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return "", err
	}
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + "/" + ref.Path
	q := ref.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
