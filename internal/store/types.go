package store

import (
	"time"
)

// TimestampLayout is the wire format for record timestamps: ISO-8601 with
// millisecond precision in UTC, e.g. 2026-01-02T15:04:05.123Z.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in the journal's ISO-8601 millisecond format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a journal timestamp. It tolerates RFC3339 variants so
// records written by other producers remain readable.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// Key prefixes for the single-table journal layout.
const (
	SessionKeyPrefix  = "SESSION#"
	EventKeyPrefix    = "EVENT#"
	MetadataKeyPrefix = "METADATA#"
	TaskKeyPrefix     = "TASK#"
)

// SessionKey builds the partition key for a session.
func SessionKey(sessionID string) string {
	return SessionKeyPrefix + sessionID
}

// EventSortKey builds the composite sort key for an event record.
// Timestamp-first ordering keeps a session's events naturally sorted; the
// event id breaks ties between same-millisecond writers.
func EventSortKey(createdAt time.Time, eventID string) string {
	return EventKeyPrefix + FormatTimestamp(createdAt) + "#" + eventID
}

// Event is one immutable fact about a session's lifecycle transition.
// Events are write-once: the conditional insert either lands the record
// uniquely or fails with a CONFLICT, never an overwrite.
type Event struct {
	SessionID    string    `json:"session_id"`
	EventID      string    `json:"event_id"`
	SortKey      string    `json:"sort_key"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	TTLSeconds   int64     `json:"ttl_seconds"`
}

// Metadata is the single descriptive record per session. Last write wins.
type Metadata struct {
	SessionID  string    `json:"session_id"`
	SortKey    string    `json:"sort_key"`
	CreatedAt  time.Time `json:"created_at"`
	TTLSeconds int64     `json:"ttl_seconds"`
}

// Task is a first-class record for one phase of the workflow. Created by
// start_task, finalized exactly once by complete_task; there is no other
// update path.
type Task struct {
	SessionID       string     `json:"session_id"`
	RecordKey       string     `json:"record_key"`
	PhaseName       string     `json:"phase_name"`
	Status          string     `json:"status"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationSeconds int64      `json:"duration_seconds,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	TTLSeconds      int64      `json:"ttl_seconds"`
}

// TaskCompletion carries the finalization of a task record.
type TaskCompletion struct {
	Status          string
	EndTime         time.Time
	DurationSeconds int64
	ErrorMessage    string
}

// DataItem is a per-session keyed blob used to pass results between agent
// stages (e.g. ANALYSIS_RESULTS from the analysis stage to the report stage).
type DataItem struct {
	SessionID  string    `json:"session_id"`
	DataKey    string    `json:"data_key"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
	TTLSeconds int64     `json:"ttl_seconds"`
}

// EventFilter narrows event queries.
type EventFilter struct {
	Status string
	Since  *time.Time
	Limit  int
}
