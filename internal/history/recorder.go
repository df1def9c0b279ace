package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultBuffer      = 256
	DefaultSendTimeout = 5 * time.Second
)

// Recorder forwards events to a Sink from a single background goroutine so
// that a slow or unreachable sink never blocks supervision. When the buffer
// is full new events are dropped and counted.
type Recorder struct {
	sink        Sink
	log         *slog.Logger
	sendTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	ch      chan Event
	done    chan struct{}
	dropped atomic.Uint64
	failed  atomic.Uint64
}

type RecorderOption func(*Recorder)

func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.ch = make(chan Event, n)
		}
	}
}

func WithSendTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.sendTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.log = l
		}
	}
}

func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:        sink,
		log:         slog.Default(),
		sendTimeout: DefaultSendTimeout,
		ch:          make(chan Event, DefaultBuffer),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
		err := r.sink.Send(ctx, e)
		cancel()
		if err != nil {
			r.failed.Add(1)
			r.log.Warn("history sink send failed", slog.String("type", string(e.Type)), slog.Any("error", err))
		}
	}
}

// Record enqueues e without blocking. A nil Recorder discards events.
func (r *Recorder) Record(e Event) {
	if r == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- e:
	default:
		r.dropped.Add(1)
	}
}

func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }
func (r *Recorder) Failed() uint64  { return r.failed.Load() }

// Close stops intake, drains queued events until ctx expires, and closes
// the sink if it implements io.Closer.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if c, ok := r.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// MultiSink fans an event out to several sinks and joins their errors.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
