package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPChecker issues a GET and is healthy iff the response status equals
// ExpectedStatus. The body is ignored.
type HTTPChecker struct {
	URL            string
	ExpectedStatus int           // default 200
	Timeout        time.Duration // default 5s
	Client         *http.Client  // default http.DefaultClient
}

func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{URL: url, ExpectedStatus: http.StatusOK, Timeout: DefaultTimeout}
}

func (c *HTTPChecker) Name() string { return "http " + c.URL }

func (c *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	timeout := timeoutOr(c.Timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return unhealthy(c.Name(), start, fmt.Sprintf("build request: %v", err))
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return unhealthy(c.Name(), start, fmt.Sprintf("timed out after %s", timeout))
		}
		return unhealthy(c.Name(), start, fmt.Sprintf("request failed: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	want := c.ExpectedStatus
	if want == 0 {
		want = http.StatusOK
	}
	if resp.StatusCode != want {
		return unhealthy(c.Name(), start, fmt.Sprintf("unexpected status %d (expected %d)", resp.StatusCode, want))
	}
	return healthy(c.Name(), start)
}
