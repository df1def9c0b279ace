package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPChecker_StatusMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewHTTPChecker(srv.URL + "/healthy").Check(context.Background())
	assert.True(t, r.Healthy(), r.Reason)
	assert.Empty(t, r.Reason)
}

func TestHTTPChecker_CustomExpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewHTTPChecker(srv.URL)
	assert.False(t, c.Check(context.Background()).Healthy())
	c.ExpectedStatus = http.StatusNoContent
	assert.True(t, c.Check(context.Background()).Healthy())
}

func TestHTTPChecker_UnexpectedStatusWithGock(t *testing.T) {
	defer gock.Off()
	client := &http.Client{}
	gock.InterceptClient(client)
	defer gock.RestoreClient(client)

	gock.New("http://pdp.local").Get("/healthy").Reply(500)

	c := NewHTTPChecker("http://pdp.local/healthy")
	c.Client = client
	r := c.Check(context.Background())
	require.False(t, r.Healthy())
	assert.Equal(t, "unexpected status 500 (expected 200)", r.Reason)
	assert.True(t, gock.IsDone())
}

func TestHTTPChecker_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	r := NewHTTPChecker("http://" + addr + "/healthy").Check(context.Background())
	require.False(t, r.Healthy())
	assert.Contains(t, r.Reason, "request failed")
}

func TestHTTPChecker_TimeoutBoundsProbe(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewHTTPChecker(srv.URL)
	c.Timeout = 100 * time.Millisecond
	start := time.Now()
	r := c.Check(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	require.False(t, r.Healthy())
	assert.Contains(t, r.Reason, "timed out")
}

func TestHTTPChecker_BadURL(t *testing.T) {
	r := NewHTTPChecker("://nope").Check(context.Background())
	require.False(t, r.Healthy())
	assert.Contains(t, r.Reason, "build request")
}

func TestTCPChecker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	addr := ln.Addr().String()

	assert.True(t, NewTCPChecker(addr).Check(context.Background()).Healthy())

	require.NoError(t, ln.Close())
	r := NewTCPChecker(addr).Check(context.Background())
	require.False(t, r.Healthy())
	assert.Contains(t, r.Reason, "connect failed")
}

type countingChecker struct {
	name  string
	ok    bool
	calls int
}

func (c *countingChecker) Name() string { return c.name }

func (c *countingChecker) Check(context.Context) Result {
	c.calls++
	if c.ok {
		return healthy(c.name, time.Now())
	}
	return unhealthy(c.name, time.Now(), c.name+" down")
}

func TestComposite_AllHealthy(t *testing.T) {
	a, b := &countingChecker{name: "a", ok: true}, &countingChecker{name: "b", ok: true}
	r := NewCompositeChecker(a, b).Check(context.Background())
	assert.True(t, r.Healthy())
	assert.Len(t, r.Results, 2)
}

func TestComposite_NoShortCircuitAndFirstReason(t *testing.T) {
	a := &countingChecker{name: "a", ok: true}
	b := &countingChecker{name: "b"}
	c := &countingChecker{name: "c"}
	comp := NewCompositeChecker(a, b, c)

	r := comp.Check(context.Background())
	require.False(t, r.Healthy())
	assert.Equal(t, "b: b down", r.Reason)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, 1, c.calls)
}

func TestComposite_HTTPOkTCPFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closed := ln.Addr().String()
	require.NoError(t, ln.Close())

	tcp := NewTCPChecker(closed)
	r := NewCompositeChecker(NewHTTPChecker(srv.URL), tcp).Check(context.Background())
	require.False(t, r.Healthy())
	assert.Contains(t, r.Reason, tcp.Name())
	assert.Contains(t, r.Reason, "connect failed")
	assert.True(t, r.Results[0].Healthy())
}

func TestComposite_IgnoresNil(t *testing.T) {
	c := NewCompositeChecker(nil, &countingChecker{name: "x", ok: true})
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, "all(x)", c.Name())
}

type sleepyChecker struct {
	name string
	d    time.Duration
}

func (s sleepyChecker) Name() string { return s.name }

// Check ignores ctx on purpose to model a member without its own bound.
func (s sleepyChecker) Check(context.Context) Result {
	time.Sleep(s.d)
	return healthy(s.name, time.Now())
}

func TestComposite_MembersRunConcurrently(t *testing.T) {
	comp := NewCompositeChecker(
		sleepyChecker{name: "a", d: 300 * time.Millisecond},
		sleepyChecker{name: "b", d: 300 * time.Millisecond},
		sleepyChecker{name: "c", d: 300 * time.Millisecond},
	)
	start := time.Now()
	r := comp.Check(context.Background())
	assert.True(t, r.Healthy(), r.Reason)
	assert.Less(t, time.Since(start), 800*time.Millisecond)
	require.Len(t, r.Results, 3)
	assert.Equal(t, "a", r.Results[0].Checker)
	assert.Equal(t, "c", r.Results[2].Checker)
}

func TestComposite_TimeoutBoundsWholeCheck(t *testing.T) {
	comp := NewCompositeChecker(
		&countingChecker{name: "fast", ok: true},
		sleepyChecker{name: "slow", d: 2 * time.Second},
	)
	comp.Timeout = 100 * time.Millisecond

	start := time.Now()
	r := comp.Check(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	require.False(t, r.Healthy())
	assert.Contains(t, r.Reason, "slow: timed out")
	assert.True(t, r.Results[0].Healthy())
}

func TestComposite_EmptyIsHealthy(t *testing.T) {
	assert.True(t, NewCompositeChecker().Check(context.Background()).Healthy())
}
