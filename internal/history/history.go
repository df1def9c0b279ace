package history

import (
	"context"
	"time"
)

// EventType is the kind of supervision event.
type EventType string

const (
	EventSpawned     EventType = "spawned"
	EventExited      EventType = "exited"
	EventSpawnFailed EventType = "spawn_failed"
	EventRestart     EventType = "restart"
	EventState       EventType = "state"
	EventStopped     EventType = "stopped"
)

// Event is one entry of the supervision journal. Fields that do not apply
// to a given Type are left zero.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service"`
	PID        int       `json:"pid,omitempty"`
	RunID      string    `json:"run_id,omitempty"`
	// ExitCode is set for EventExited; -1 means killed by a signal.
	ExitCode *int   `json:"exit_code,omitempty"`
	Reason   string `json:"reason,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
}

// Sink is a destination for supervision events. Implementations must be
// safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// IntPtr is a helper for Event.ExitCode.
func IntPtr(v int) *int { return &v }
