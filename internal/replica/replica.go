// Package replica manages standby capacity for resources running in risky
// pools. Each managed resource has at most one live replica, in either
// automatic mode (created and retired by risk level) or manual mode (a ready
// standby maintained at all times). The two modes are mutually exclusive.
package replica

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is a replica's lifecycle position. The only legal transitions are
// launching → ready and ready → promoted or terminated; launching may also
// go straight to terminated if retired before it becomes ready.
type State string

const (
	StateLaunching  State = "launching"
	StateReady      State = "ready"
	StatePromoted   State = "promoted"
	StateTerminated State = "terminated"
)

// Live reports whether the replica still occupies capacity.
func (s State) Live() bool {
	return s == StateLaunching || s == StateReady
}

// Mode selects how replicas are managed for a resource.
type Mode string

const (
	// ModeOff disables replica management.
	ModeOff Mode = "off"
	// ModeAuto creates a replica only while risk is medium or high.
	ModeAuto Mode = "auto"
	// ModeManual keeps a ready replica at all times.
	ModeManual Mode = "manual"
)

// Replica is one standby capacity record.
type Replica struct {
	ID       string `json:"id"`
	Resource string `json:"resource"`
	Tenant   string `json:"tenant"`
	Mode     Mode   `json:"mode"`
	State    State  `json:"state"`

	// PoolID is where the standby capacity was placed.
	PoolID string `json:"pool_id"`

	CreatedAt    time.Time `json:"created_at"`
	ReadyAt      time.Time `json:"ready_at,omitempty"`
	PromotedAt   time.Time `json:"promoted_at,omitempty"`
	TerminatedAt time.Time `json:"terminated_at,omitempty"`
}

var (
	// ErrNotFound is returned when no replica exists for the given key.
	ErrNotFound = errors.New("replica: not found")
	// ErrNotReady is returned when promotion is requested for a replica
	// that is not in the ready state.
	ErrNotReady = errors.New("replica: not ready for promotion")
	// ErrModeConflict is returned when a mode change would leave both
	// modes active for one resource.
	ErrModeConflict = errors.New("replica: conflicting mode already enabled")
)

// Store persists replica records. One live replica per resource at most.
type Store interface {
	Save(ctx context.Context, r Replica) error
	Get(ctx context.Context, id string) (Replica, error)
	// LiveForResource returns the resource's live replica, if any.
	LiveForResource(ctx context.Context, resource string) (Replica, bool, error)
}

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu       sync.RWMutex
	replicas map[string]Replica
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{replicas: make(map[string]Replica)}
}

func (s *MemoryStore) Save(ctx context.Context, r Replica) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replicas[r.ID] = r
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Replica, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.replicas[id]
	if !ok {
		return Replica{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) LiveForResource(ctx context.Context, resource string) (Replica, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.replicas {
		if r.Resource == resource && r.State.Live() {
			return r, true, nil
		}
	}
	return Replica{}, false, nil
}

var _ Store = (*MemoryStore)(nil)
