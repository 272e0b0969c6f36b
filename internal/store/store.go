package store

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned when a session record does not exist.
var ErrRecordNotFound = errors.New("session record not found")

// SessionState is the lifecycle state of a session. Transitions are
// monotonic: created -> active -> closing -> closed.
type SessionState string

const (
	StateCreated SessionState = "created"
	StateActive  SessionState = "active"
	StateClosing SessionState = "closing"
	StateClosed  SessionState = "closed"
)

// IsActive reports whether the state counts toward concurrency limits.
func (s SessionState) IsActive() bool {
	return s == StateCreated || s == StateActive
}

// MetricsSnapshot is a serialized copy of a session's counters.
type MetricsSnapshot struct {
	AudioBytesReceived  uint64 `json:"audio_bytes_received"`
	AudioChunksReceived uint64 `json:"audio_chunks_received"`
	PartialResults      uint64 `json:"partial_results"`
	FinalResults        uint64 `json:"final_results"`
	Errors              uint64 `json:"errors"`
}

// SessionRecord is the store-facing projection of a session: identity, state,
// owning instance, and coarse metadata. It deliberately excludes live audio
// buffers, which never leave the owning instance.
type SessionRecord struct {
	ID             string          `json:"id"`
	State          SessionState    `json:"state"`
	Owner          string          `json:"owner"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	Metrics        MetricsSnapshot `json:"metrics"`
}

// Store makes session existence and metadata visible, either process-locally
// or across instances. Implementations must tolerate concurrent
// create/update/delete from multiple instances.
//
// The shared implementation attaches a TTL to every record so that a crashed
// instance's orphans eventually disappear without explicit deletion.
type Store interface {
	// Create inserts a record. Returns false without overwriting if the id
	// already exists.
	Create(ctx context.Context, record *SessionRecord) (bool, error)

	// Get returns the record for id, or ErrRecordNotFound.
	Get(ctx context.Context, id string) (*SessionRecord, error)

	// Update replaces an existing record. Returns false if the id is absent.
	Update(ctx context.Context, record *SessionRecord) (bool, error)

	// Delete removes a record. Returns false if the id was absent.
	Delete(ctx context.Context, id string) (bool, error)

	// CountActive counts records in created/active state. For the shared
	// implementation this spans all instances.
	CountActive(ctx context.Context) (int, error)

	// ListByOwner returns all records owned by the given instance.
	ListByOwner(ctx context.Context, owner string) ([]*SessionRecord, error)

	// Close releases store resources.
	Close() error
}
