package main

import (
	"bytes"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/pdpwatch/internal/health"
)

func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHelp(t *testing.T) {
	out, err := execRoot(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "pdpwatch")
	for _, sub := range []string{"run", "probe", "status", "restart", "auth", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestVersion(t *testing.T) {
	out, err := execRoot(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "pdpwatch dev ("), out)
}

func TestProbe_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthy" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	out, err := execRoot(t, "probe", "--http", srv.URL+"/healthy")
	require.NoError(t, err)
	assert.Contains(t, out, `"verdict": "healthy"`)

	out, err = execRoot(t, "probe", "--http", srv.URL+"/down")
	require.Error(t, err)
	assert.Contains(t, out, `"verdict": "unhealthy"`)

	_, err = execRoot(t, "probe", "--http", srv.URL+"/down", "--expect", "503")
	assert.NoError(t, err)
}

func TestProbe_TCPAndComposite(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err = execRoot(t, "probe", "--tcp", ln.Addr().String(), "--timeout", "1s")
	require.NoError(t, err)

	out, err := execRoot(t, "probe", "--tcp", ln.Addr().String(), "--http", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, `"results"`)
}

func TestProbe_NoTarget(t *testing.T) {
	_, err := execRoot(t, "probe")
	assert.ErrorIs(t, err, errNoProbeTarget)
}

func TestRun_BadConfig(t *testing.T) {
	_, err := execRoot(t, "run", "--config", "/nonexistent/pdpwatch.toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error loading config")
}

func TestAuthHashPassword(t *testing.T) {
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("s3cret\n"))
	root.SetArgs([]string{"auth", "hash-password", "--cost", "4"})
	require.NoError(t, root.Execute())

	h := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("s3cret")))

	root = buildRoot()
	root.SetOut(&out)
	root.SetIn(strings.NewReader(""))
	root.SetArgs([]string{"auth", "hash-password"})
	assert.Error(t, root.Execute())
}

func TestProbeChecker_CompositeCarriesTimeout(t *testing.T) {
	c, err := probeChecker(ProbeFlags{HTTP: "http://127.0.0.1:1/", TCP: "127.0.0.1:1", Timeout: 2 * time.Second})
	require.NoError(t, err)
	comp, ok := c.(*health.CompositeChecker)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, comp.Timeout)
	assert.Equal(t, 2, comp.Len())
}
