package domain

import "time"

type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

type SyncState int

const (
	SyncStateLocalOnly SyncState = iota
	SyncStatePublishing
	SyncStateSynced
	SyncStateStale
	SyncStateFailed
)

func (s SyncState) String() string {
	switch s {
	case SyncStatePublishing:
		return "publishing"
	case SyncStateSynced:
		return "synced"
	case SyncStateStale:
		return "stale"
	case SyncStateFailed:
		return "failed"
	default:
		return "local-only"
	}
}

// SyncResult is the single completion of one sync attempt.
type SyncResult struct {
	LocalID   int64
	Operation Operation
	Item      *Item
	Err       error
}

// SyncEvent is published after every sync attempt.
type SyncEvent struct {
	Action    Operation `json:"action"`
	LocalID   int64     `json:"local_id"`
	RemoteID  int64     `json:"remote_id"`
	Title     string    `json:"title"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PullStats holds statistics about a pull from the remote service.
type PullStats struct {
	Categories int
	Tags       int
	Fetched    int
	New        int
	Updated    int
	Skipped    int
	Errors     int
	Duration   time.Duration
}

// PullState records the last pull from one remote.
type PullState struct {
	Remote       string    `db:"remote"`
	LastPulledAt time.Time `db:"last_pulled_at"`
	TotalPulled  int64     `db:"total_pulled"`
}
