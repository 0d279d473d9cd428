package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/masahif/opendir/internal/ratelimit"
	"github.com/masahif/opendir/internal/retry"
	"github.com/masahif/opendir/internal/session"
)

// apiClient issues JSON requests against a paginated API with its own rate
// limit and a per-request retry policy. Authentication failures cancel the
// retry loop with a FatalError.
type apiClient struct {
	name    string
	client  *HTTPClient
	limiter *ratelimit.Limiter
	policy  retry.Policy
}

// call performs r and decodes a JSON response into out. Errors returned have
// already been retried and are marked permanent.
func (c *apiClient) call(ctx context.Context, sess *session.Session, r HTTPRequest, out any) error {
	if ua, ok := sess.Params.Get(session.ParamUserAgent); ok && r.UserAgent == "" {
		r.UserAgent = ua
	}

	policy := c.policy
	policy.OnRetry = func(ev retry.Event) {
		switch StatusCode(ev.Err) {
		case http.StatusUnauthorized, http.StatusForbidden:
			ev.Cancel(&FatalError{Backend: c.name, Err: ev.Err})
			return
		}
		if ev.Final {
			return
		}
		slog.Warn("API request failed, retrying",
			"backend", c.name, "url", r.URL, "attempt", ev.Attempt, "delay", ev.Delay, "error", ev.Err)
	}

	_, err := retry.Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, retry.Permanent(err)
		}

		resp, err := c.client.Do(ctx, r)
		if err != nil {
			sess.RecordRequest(0)
			return struct{}{}, err
		}
		sess.RecordRequest(resp.StatusCode)
		sess.RecordTraffic(int64(len(resp.Body)))

		switch code := resp.StatusCode; {
		case code == http.StatusTooManyRequests:
			c.limiter.AddDelay(retryAfter(resp.Headers))
			return struct{}{}, &StatusError{URL: r.URL, Code: code}
		case code == http.StatusUnauthorized, code == http.StatusForbidden,
			code == http.StatusRequestTimeout, code >= 500:
			return struct{}{}, &StatusError{URL: r.URL, Code: code}
		case code < 200 || code >= 300:
			return struct{}{}, retry.Permanent(&StatusError{URL: r.URL, Code: code})
		}

		if err := json.Unmarshal(resp.Body, out); err != nil {
			return struct{}{}, retry.Permanent(fmt.Errorf("failed to decode %s response: %w", c.name, err))
		}
		return struct{}{}, nil
	})
	if err != nil {
		if code := StatusCode(err); (code == http.StatusUnauthorized || code == http.StatusForbidden) && !IsFatal(err) {
			err = &FatalError{Backend: c.name, Err: err}
		}
		return retry.Permanent(err)
	}
	return nil
}
