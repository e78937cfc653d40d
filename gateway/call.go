package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/taskgate/errors"
	"github.com/vinayprograms/taskgate/telemetry"
)

// CallOption configures a single Call.
type CallOption func(*callOptions)

type callOptions struct {
	skipRefresh bool
	query       url.Values
}

// SkipAuth marks a call that does not depend on an existing session, such as
// login or registration. The credential jar still records whatever the server
// sets. A 401 is the call's own failure, so SkipAuth implies SkipRefresh.
func SkipAuth() CallOption {
	return func(o *callOptions) {
		o.skipRefresh = true
	}
}

// SkipRefresh returns a 401 to the caller without attempting a refresh.
func SkipRefresh() CallOption {
	return func(o *callOptions) {
		o.skipRefresh = true
	}
}

// WithQuery adds query parameters to the request.
func WithQuery(q url.Values) CallOption {
	return func(o *callOptions) {
		if o.query == nil {
			o.query = url.Values{}
		}
		for k, vs := range q {
			for _, v := range vs {
				o.query.Add(k, v)
			}
		}
	}
}

// callState is a step of the per-call state machine:
// send, then on 401 refresh and resend once, then settle.
type callState int

const (
	stateSend callState = iota
	stateRefresh
	stateResend
	stateSettle
)

func (s callState) String() string {
	switch s {
	case stateSend:
		return "send"
	case stateRefresh:
		return "refresh"
	case stateResend:
		return "resend"
	case stateSettle:
		return "settle"
	default:
		return "unknown"
	}
}

// Call sends method to endpoint (relative to the base URL) with body encoded
// as JSON when non-nil. A 401 triggers one shared session refresh and one
// resend of the same request; every other outcome is returned as is.
func (c *Client) Call(ctx context.Context, method, endpoint string, body interface{}, opts ...CallOption) (*Response, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	payload, err := encodeBody(body)
	if err != nil {
		return nil, errors.New(errors.ErrCodeUnknown, "encode request body",
			errors.WithKind(errors.KindInternal), errors.WithCause(err), errors.WithRequest(method, endpoint))
	}

	requestID := uuid.NewString()
	ctx, span := c.tracer.StartRequestSpan(ctx, method, endpoint)
	start := time.Now()

	var (
		resp      *Response
		callErr   error
		attempts  int
		refreshed bool
	)

	state := stateSend
	for state != stateSettle {
		switch state {
		case stateSend, stateResend:
			attempts++
			resp, callErr = c.do(ctx, method, endpoint, payload, co.query, requestID)
			if callErr != nil && state == stateSend && !co.skipRefresh && errors.IsAuth(callErr) {
				state = stateRefresh
				c.logger.Debug("call_transition", map[string]interface{}{
					"endpoint":   endpoint,
					"request_id": requestID,
					"state":      state,
				})
				continue
			}
			state = stateSettle

		case stateRefresh:
			refreshed = true
			if _, err := c.EnsureFreshSession(ctx); err != nil {
				callErr = err
				state = stateSettle
				continue
			}
			state = stateResend
		}
	}

	var status int
	if resp != nil {
		status = resp.Status
	} else {
		status = errors.Status(callErr)
	}
	spanOpts := telemetry.RequestSpanOptions{
		Status:    status,
		Attempts:  attempts,
		Refreshed: refreshed,
		RequestID: requestID,
	}
	if c.tracer.Debug() {
		spanOpts.Body = string(payload)
	}
	c.tracer.EndRequestSpan(span, spanOpts, callErr)
	c.logger.Request(method, endpoint, status, time.Since(start), callErr)

	if callErr != nil {
		return nil, callErr
	}
	return resp, nil
}

func encodeBody(body interface{}) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(body)
	}
}

// do performs one HTTP exchange under the per-attempt timeout and
// classifies the outcome.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, query url.Values, requestID string) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target, err := c.resolve(endpoint, query)
	if err != nil {
		return nil, errors.New(errors.ErrCodeUnknown, "invalid endpoint",
			errors.WithKind(errors.KindInternal), errors.WithCause(err), errors.WithRequest(method, endpoint))
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return nil, errors.New(errors.ErrCodeUnknown, "build request",
			errors.WithKind(errors.KindInternal), errors.WithCause(err), errors.WithRequest(method, endpoint))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", requestID)
	telemetry.InjectHeaders(attemptCtx, req.Header)

	if c.limiter != nil {
		if err := c.limiter.Acquire(attemptCtx, RateLimitResource); err != nil {
			return nil, c.transportError(ctx, attemptCtx, err, method, endpoint)
		}
		defer c.limiter.Done(RateLimitResource)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, err, method, endpoint)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, err, method, endpoint)
	}

	if httpResp.StatusCode >= 400 {
		if httpResp.StatusCode == http.StatusTooManyRequests && c.limiter != nil {
			c.limiter.Reduce(RateLimitResource, "received 429 response")
		}
		return nil, errors.FromResponse(httpResp.StatusCode, data,
			errors.WithRequest(method, endpoint),
			errors.WithMetadata("request_id", requestID))
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		body:   data,
	}, nil
}

// transportError classifies a failure that produced no response. The
// caller's own context takes precedence over the per-attempt timeout.
func (c *Client) transportError(parent, attempt context.Context, err error, method, endpoint string) error {
	req := errors.WithRequest(method, endpoint)
	switch {
	case parent.Err() == context.Canceled:
		return errors.Canceled("request canceled", req, errors.WithCause(err))
	case parent.Err() == context.DeadlineExceeded, attempt.Err() == context.DeadlineExceeded:
		return errors.Timeout("request timed out", req, errors.WithCause(err))
	default:
		return errors.Network("network error", req, errors.WithCause(err))
	}
}

// contextError converts a finished caller context into an APIError.
func contextError(ctx context.Context, method, endpoint string) error {
	req := errors.WithRequest(method, endpoint)
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Timeout("request timed out", req, errors.WithCause(ctx.Err()))
	}
	return errors.Canceled("request canceled", req, errors.WithCause(ctx.Err()))
}
