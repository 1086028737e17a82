package store

import (
	"context"
	"time"
)

// Store defines the journal persistence contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Events (append-only; AppendEvent is conditional on key uniqueness and
	// returns a CONFLICT error when the composite key already exists)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, sessionID string, filter EventFilter) ([]*Event, error)

	// Session metadata (idempotent upsert, one logical row per session)
	PutMetadata(ctx context.Context, md *Metadata) error
	GetMetadata(ctx context.Context, sessionID string) (*Metadata, error)

	// Tasks
	CreateTask(ctx context.Context, task *Task) error
	CompleteTask(ctx context.Context, sessionID, recordKey string, done TaskCompletion) error
	FindTaskByPhase(ctx context.Context, sessionID, phaseName string) (*Task, error)
	ListTasks(ctx context.Context, sessionID string) ([]*Task, error)

	// Cross-agent data passing
	WriteData(ctx context.Context, item *DataItem) error
	ReadData(ctx context.Context, sessionID, dataKey string) (*DataItem, error)

	// Reconciliation support: sessions whose background task started before
	// the cutoff and never reached a terminal status.
	ListStaleSessions(ctx context.Context, cutoff time.Time) ([]string, error)

	// Retention: drop rows whose TTL elapsed before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)

	// Maintenance
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Lifecycle
	Close() error
}
