package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/taskgate/errors"
)

const refreshKey = "session-refresh"

// EnsureFreshSession renews the session by calling the refresh endpoint.
// Concurrent callers share a single in-flight refresh and its result. The
// shared call does not observe any one caller's cancellation; a caller whose
// ctx ends stops waiting and gets a canceled or timeout error while the
// refresh completes for the others.
//
// When the refresh fails, every hook registered with OnSessionExpired runs
// once for that cycle and every waiter receives the same auth error.
func (c *Client) EnsureFreshSession(ctx context.Context) (*Response, error) {
	ch := c.refreshGroup.DoChan(refreshKey, func() (interface{}, error) {
		return c.refresh(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Response), nil
	case <-ctx.Done():
		return nil, contextError(ctx, http.MethodPost, c.refreshPath)
	}
}

// refresh performs the single shared refresh call. It runs at most once at
// a time per Client.
func (c *Client) refresh(ctx context.Context) (*Response, error) {
	c.refreshStarted.Add(1)
	c.logger.RefreshStart(c.refreshPath)
	start := time.Now()

	ctx, span := c.tracer.StartRefreshSpan(ctx)
	resp, err := c.do(ctx, http.MethodPost, c.refreshPath, nil, nil, uuid.NewString())
	c.tracer.EndRefreshSpan(span, err)
	c.logger.RefreshComplete(time.Since(start), err)

	if err != nil {
		c.refreshFailed.Add(1)
		if !errors.IsAuth(err) {
			err = errors.Unauthorized("session refresh failed",
				errors.WithCause(err),
				errors.WithRequest(http.MethodPost, c.refreshPath))
		}
		c.notifyExpired(err)
		return nil, err
	}
	return resp, nil
}
