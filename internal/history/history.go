package history

import (
	"context"
	"time"
)

// Op identifies a controller pass.
type Op string

const (
	OpStopAll  Op = "stop-all"
	OpBackup   Op = "backup"
	OpRollback Op = "rollback"
)

// Outcome is how a pass ended. Partial covers the "some processes
// survived verification" warning case, which is not a failure.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// Event is the audit record for one controller pass.
type Event struct {
	Op         Op            `json:"op"`
	Outcome    Outcome       `json:"outcome"`
	OccurredAt time.Time     `json:"occurred_at"`
	Duration   time.Duration `json:"duration"`
	Signaled   int           `json:"signaled"`
	Reclaimed  int           `json:"reclaimed"`
	Cleared    int           `json:"cleared"`
	Survivors  int           `json:"survivors"`
	Backend    string        `json:"backend,omitempty"`
	Artifact   string        `json:"artifact,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}

// Sink is a destination for audit events (analytics/statistics systems).
// Implementations must be safe for concurrent use. Sending is
// best-effort from the caller's point of view: a sink error is logged
// as a warning and never fails the pass that produced the event.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
