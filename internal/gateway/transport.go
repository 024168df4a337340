package gateway

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// minRateLimitWait is the floor for a primary rate-limit cooldown. The reset
// header may point only a few seconds ahead by the time we read it, and
// retrying that soon tends to bounce straight into another 403.
const minRateLimitWait = 60 * time.Second

// rateLimitTransport paces every request through a shared limiter and waits
// out primary rate-limit rejections (HTTP 403 with a "rate limit" marker in
// the body) before replaying the request. Every request this tool issues is
// a GET, so a replay is always safe. After a cooldown the limiter token has
// long since accrued, so no extra pacing delay is added for that attempt.
type rateLimitTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
	logger  *log.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	for {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		wait, limited := t.rateLimited(resp)
		if !limited {
			return resp, nil
		}
		t.logger.Printf("Rate limit hit. Waiting %s...", wait)
		if err := t.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// rateLimited reports whether resp is a primary rate-limit rejection and,
// if so, how long to wait: the time until X-RateLimit-Reset, but never less
// than minRateLimitWait. The body is drained to inspect the marker and
// restored for callers of non-limited responses.
func (t *rateLimitTransport) rateLimited(resp *http.Response) (time.Duration, bool) {
	if resp.StatusCode != http.StatusForbidden {
		return 0, false
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if !strings.Contains(strings.ToLower(string(body)), "rate limit") {
		return 0, false
	}

	wait := minRateLimitWait
	if reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil && reset > 0 {
		if until := time.Unix(reset, 0).Sub(t.now()); until > wait {
			wait = until
		}
	}
	return wait, true
}

// sleepContext blocks for d or until ctx is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
