package opensearch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/pdpwatch/internal/history"
)

// maxErrorBody caps how much of a rejected response is quoted in the error.
const maxErrorBody = 512

// Sink writes each event as a document with a deterministic id, so a resent
// event is acknowledged instead of indexed twice.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
	daily   bool
}

type Option func(*Sink)

// WithDailyIndex suffixes the index with the event's UTC date, e.g.
// pdpwatch-events-2024.05.01.
func WithDailyIndex() Option { return func(s *Sink) { s.daily = true } }

// WithHTTPClient replaces the default client with a 5s timeout.
func WithHTTPClient(c *http.Client) Option { return func(s *Sink) { s.client = c } }

func New(baseURL, index string, opts ...Option) *Sink {
	s := &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// document is the indexed shape. @timestamp lets dashboards pick the time
// field without a mapping.
type document struct {
	Timestamp time.Time `json:"@timestamp"`
	history.Event
}

// indexFor returns the target index for an event.
func (s *Sink) indexFor(e history.Event) string {
	if !s.daily {
		return s.index
	}
	return s.index + "-" + e.OccurredAt.UTC().Format("2006.01.02")
}

// docID identifies an event by what happened, to whom and when.
func docID(e history.Event) string {
	h := sha256.New()
	for _, part := range []string{
		e.Service, e.RunID, string(e.Type),
		strconv.FormatInt(e.OccurredAt.UnixNano(), 10),
		strconv.Itoa(e.PID), e.From, e.To,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	b, err := json.Marshal(document{Timestamp: e.OccurredAt, Event: e})
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/%s/_create/%s", s.baseURL, url.PathEscape(s.indexFor(e)), docID(e))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch sink: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		// already indexed by an earlier attempt
		return nil
	default:
		return fmt.Errorf("opensearch sink: %s: status %d: %s",
			s.indexFor(e), resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
