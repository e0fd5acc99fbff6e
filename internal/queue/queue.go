// Package queue implements the durable delegated action queue. The engine
// enqueues actions it cannot execute itself; the remote cluster agent polls
// for work with exactly-once claim semantics and reports terminal results
// back. Claim and report are each a single atomic compare-and-swap on the
// record status — the only strong-consistency point in the system.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/softcane/vortex-core/internal/plan"
)

// Status is the lifecycle state of one queued action.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPickedUp  Status = "picked_up"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether a status is immutable.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// DefaultExpiry bounds how long an enqueued action stays claimable or
// in-flight before the sweep fails it. Expiry is the only cancellation
// mechanism; there is no separate cancel operation.
const DefaultExpiry = 5 * time.Minute

// ExpiredReason is written to ErrorMessage when the sweep fails a record.
const ExpiredReason = "expired"

// Sentinel errors for the claim/report protocol.
var (
	// ErrNotFound is returned for operations against unknown record ids.
	ErrNotFound = errors.New("queue: action record not found")

	// ErrReportConflict is returned when a terminal record is re-reported
	// with a different terminal status. Re-reporting the same status is a
	// no-op, not an error.
	ErrReportConflict = errors.New("queue: record already terminal with a different status")

	// ErrNotTerminal rejects reports carrying a non-terminal status.
	ErrNotTerminal = errors.New("queue: report status must be completed or failed")
)

// AgentActionRecord is the durable queue entry for one delegated action.
type AgentActionRecord struct {
	ID           string             `json:"id"`
	JobID        string             `json:"job_id"`
	ClusterID    string             `json:"cluster_id"`
	ActionType   plan.DelegatedType `json:"action_type"`
	Resource     string             `json:"resource"`
	Payload      []byte             `json:"payload,omitempty"`
	Rationale    string             `json:"rationale,omitempty"`
	Status       Status             `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	ExpiresAt    time.Time          `json:"expires_at"`
	PickedUpAt   time.Time          `json:"picked_up_at,omitzero"`
	CompletedAt  time.Time          `json:"completed_at,omitzero"`
	Result       string             `json:"result,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
}

// EnqueueRequest describes a new delegated action to persist.
type EnqueueRequest struct {
	JobID      string
	ClusterID  string
	ActionType plan.DelegatedType
	Resource   string
	Payload    []byte
	Rationale  string

	// Expiry overrides DefaultExpiry when positive.
	Expiry time.Duration
}

// Report carries an agent's terminal result for one record.
type Report struct {
	RecordID string
	Status   Status // StatusCompleted or StatusFailed
	Result   string
	Error    string
}

// Store is the durable queue backend. Implementations must guarantee that
// for any record, concurrent Claim calls perform at most one
// pending→picked_up transition, and that terminal states are immutable.
type Store interface {
	// Enqueue persists a new record in pending state and returns it.
	Enqueue(ctx context.Context, req EnqueueRequest) (AgentActionRecord, error)

	// Claim atomically selects up to limit pending records for the
	// cluster, oldest first, transitions each to picked_up, and returns
	// the claimed records. Records past their expiry are never returned.
	// Losing a claim race is not an error; the record is simply absent
	// from the result.
	Claim(ctx context.Context, clusterID string, limit int) ([]AgentActionRecord, error)

	// Report transitions a record to a terminal status exactly once.
	// Reporting the same terminal status again is a no-op; a different
	// terminal status returns ErrReportConflict.
	Report(ctx context.Context, rep Report) (AgentActionRecord, error)

	// SweepExpired fails every pending or picked_up record whose expiry
	// has passed, with reason "expired", and returns the records it
	// transitioned.
	SweepExpired(ctx context.Context, now time.Time) ([]AgentActionRecord, error)

	// Get returns a record by id.
	Get(ctx context.Context, id string) (AgentActionRecord, error)
}
