package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// Client talks to the pdpwatch admin API.
type Client struct {
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
	username string
	password string

	mu    sync.Mutex
	token string
}

// Config holds client configuration
type Config struct {
	BaseURL  string // including the base path, e.g. http://127.0.0.1:7070/api
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification

	// Username and Password authenticate with basic auth, or are exchanged
	// for a bearer token when Login is called.
	Username string
	Password string
	// Token is a bearer token obtained earlier from Login.
	Token string
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path, e.g. the generated tls_ca.crt
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:7070/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a client. TLS settings are validated here so a bad CA file
// fails fast.
func New(config Config) (*Client, error) {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		logger:   config.Logger,
		username: config.Username,
		password: config.Password,
		token:    config.Token,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

// IsReachable reports whether the admin API answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("admin api unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Login exchanges the configured credentials for a bearer token, which
// later requests then send instead of basic auth.
func (c *Client) Login(ctx context.Context) (*Token, error) {
	if c.username == "" {
		return nil, errors.New("login needs a username and password")
	}
	var tok Token
	body := loginRequest{Username: c.username, Password: c.password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &tok); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.token = tok.Value
	c.mu.Unlock()
	return &tok, nil
}

func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) ResetStats(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/stats/reset", nil, nil)
}

// Restart asks the server to restart the PDP and wait up to timeout for the
// new process to spawn. Zero uses the server default.
func (c *Client) Restart(ctx context.Context, timeout time.Duration) error {
	path := "/restart"
	if timeout > 0 {
		path += "?" + url.Values{"timeout": {timeout.String()}}.Encode()
	}
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Health returns the healthz verdict. A 503 is not an error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, decodeError(resp)
	}
	var h HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &h, nil
}

func setupClientTLS(config Config) (*tls.Config, error) {
	// #nosec G402 verification is only skipped on request
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	if t := config.TLS; t != nil {
		tlsConfig.InsecureSkipVerify = t.SkipVerify
		tlsConfig.ServerName = t.ServerName
		if t.CACert != "" {
			if err := loadCACert(tlsConfig, t.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
	}
	return tlsConfig, nil
}

func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return nil
}

// do sends body as JSON when non-nil and decodes a 200 response into out
// when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("admin api request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	switch {
	case token != "":
		req.Header.Set("Authorization", "Bearer "+token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}
}

func decodeError(resp *http.Response) error {
	var er ErrorResponse
	_ = json.NewDecoder(resp.Body).Decode(&er)
	msg := er.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}
