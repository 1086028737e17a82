package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/journal.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate applies the journal schema if the database is not yet stamped.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return applySchema(ctx, s.db)
}

// HealthCheck verifies the journal table is reachable.
func (s *LibSQLStore) HealthCheck(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM journal_events WHERE 1=0`).Scan(&n); err != nil {
		return schema.NewError(schema.ErrCodeStore, "journal table not reachable").WithCause(err)
	}
	return nil
}

// --- Events ---

// AppendEvent inserts one immutable event record. The insert is conditional
// on the (session_key, sort_key) composite key not existing: a duplicate or
// retried write fails with a CONFLICT error and never clobbers the stored
// record.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.SortKey == "" {
		event.SortKey = EventSortKey(event.CreatedAt, event.EventID)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_events (session_key, sort_key, session_id, event_id, status, error_message, created_at, ttl_seconds)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		SessionKey(event.SessionID), event.SortKey, event.SessionID, event.EventID,
		event.Status, nullStr(event.ErrorMessage), FormatTimestamp(event.CreatedAt), event.TTLSeconds,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict,
				"event already recorded for session %s with key %s", event.SessionID, event.SortKey).
				WithCause(err)
		}
		return wrapStoreErr("append event", err)
	}
	return nil
}

// GetEvents returns a session's events ordered by created_at then event_id.
func (s *LibSQLStore) GetEvents(ctx context.Context, sessionID string, filter EventFilter) ([]*Event, error) {
	query := `SELECT session_id, event_id, sort_key, status, error_message, created_at, ttl_seconds
		 FROM journal_events WHERE session_id = ?`
	args := []any{sessionID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.Since != nil {
		query += ` AND created_at > ?`
		args = append(args, FormatTimestamp(*filter.Since))
	}
	query += ` ORDER BY created_at, event_id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr("get events", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var errMsg sql.NullString
		var createdAt string
		if err := rows.Scan(&e.SessionID, &e.EventID, &e.SortKey, &e.Status, &errMsg, &createdAt, &e.TTLSeconds); err != nil {
			return nil, wrapStoreErr("scan event", err)
		}
		e.ErrorMessage = errMsg.String
		if e.CreatedAt, err = ParseTimestamp(createdAt); err != nil {
			return nil, wrapStoreErr("parse event timestamp", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Metadata ---

// PutMetadata writes the single descriptive record for a session.
// There is no uniqueness condition: only one logical metadata record is
// expected per session and idempotent overwrite is acceptable.
func (s *LibSQLStore) PutMetadata(ctx context.Context, md *Metadata) error {
	if md.CreatedAt.IsZero() {
		md.CreatedAt = time.Now().UTC()
	}
	if md.SortKey == "" {
		md.SortKey = MetadataKeyPrefix + FormatTimestamp(md.CreatedAt)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_metadata (session_key, sort_key, session_id, created_at, ttl_seconds)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_key) DO UPDATE SET
		   sort_key=excluded.sort_key, created_at=excluded.created_at, ttl_seconds=excluded.ttl_seconds`,
		SessionKey(md.SessionID), md.SortKey, md.SessionID, FormatTimestamp(md.CreatedAt), md.TTLSeconds,
	)
	if err != nil {
		return wrapStoreErr("put metadata", err)
	}
	return nil
}

func (s *LibSQLStore) GetMetadata(ctx context.Context, sessionID string) (*Metadata, error) {
	md := &Metadata{}
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, sort_key, created_at, ttl_seconds FROM session_metadata WHERE session_key = ?`,
		SessionKey(sessionID),
	).Scan(&md.SessionID, &md.SortKey, &createdAt, &md.TTLSeconds)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("metadata", sessionID)
	}
	if err != nil {
		return nil, wrapStoreErr("get metadata", err)
	}
	if md.CreatedAt, err = ParseTimestamp(createdAt); err != nil {
		return nil, wrapStoreErr("parse metadata timestamp", err)
	}
	return md, nil
}

// --- Tasks ---

func (s *LibSQLStore) CreateTask(ctx context.Context, task *Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal_tasks (session_id, record_key, phase_name, status, start_time, end_time, duration_seconds, error_message, ttl_seconds)
		 VALUES (?, ?, ?, ?, ?, NULL, NULL, NULL, ?)`,
		task.SessionID, task.RecordKey, task.PhaseName, task.Status,
		FormatTimestamp(task.StartTime), task.TTLSeconds,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict,
				"task record %s already exists for session %s", task.RecordKey, task.SessionID).
				WithCause(err)
		}
		return wrapStoreErr("create task", err)
	}
	return nil
}

// CompleteTask finalizes a task record. It is the only update path for tasks.
func (s *LibSQLStore) CompleteTask(ctx context.Context, sessionID, recordKey string, done TaskCompletion) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE journal_tasks
		 SET status = ?, end_time = ?, duration_seconds = ?, error_message = ?
		 WHERE session_id = ? AND record_key = ?`,
		done.Status, FormatTimestamp(done.EndTime), done.DurationSeconds, nullStr(done.ErrorMessage),
		sessionID, recordKey,
	)
	if err != nil {
		return wrapStoreErr("complete task", err)
	}
	return checkRowsAffected(res, "task", recordKey)
}

// FindTaskByPhase returns the most recent task record for a phase within a
// session. This is the durable fallback behind the process-local task cache:
// completion must work even when the start happened in another process.
func (s *LibSQLStore) FindTaskByPhase(ctx context.Context, sessionID, phaseName string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, record_key, phase_name, status, start_time, end_time, duration_seconds, error_message, ttl_seconds
		 FROM journal_tasks WHERE session_id = ? AND phase_name = ?
		 ORDER BY record_key DESC LIMIT 1`,
		sessionID, phaseName,
	)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeTaskNotFound,
			"task %q not found for session %q", phaseName, sessionID).
			WithPhase(phaseName).
			WithDetails(map[string]any{"session_id": sessionID, "phase_name": phaseName})
	}
	if err != nil {
		return nil, wrapStoreErr("find task by phase", err)
	}
	return task, nil
}

func (s *LibSQLStore) ListTasks(ctx context.Context, sessionID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, record_key, phase_name, status, start_time, end_time, duration_seconds, error_message, ttl_seconds
		 FROM journal_tasks WHERE session_id = ? ORDER BY record_key`,
		sessionID,
	)
	if err != nil {
		return nil, wrapStoreErr("list tasks", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, wrapStoreErr("scan task", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// --- Data items ---

func (s *LibSQLStore) WriteData(ctx context.Context, item *DataItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_data (session_id, data_key, content, created_at, ttl_seconds)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, data_key) DO UPDATE SET
		   content=excluded.content, created_at=excluded.created_at, ttl_seconds=excluded.ttl_seconds`,
		item.SessionID, item.DataKey, item.Content, FormatTimestamp(item.CreatedAt), item.TTLSeconds,
	)
	if err != nil {
		return wrapStoreErr("write data", err)
	}
	return nil
}

func (s *LibSQLStore) ReadData(ctx context.Context, sessionID, dataKey string) (*DataItem, error) {
	item := &DataItem{}
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, data_key, content, created_at, ttl_seconds
		 FROM session_data WHERE session_id = ? AND data_key = ?`,
		sessionID, dataKey,
	).Scan(&item.SessionID, &item.DataKey, &item.Content, &createdAt, &item.TTLSeconds)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("data", dataKey)
	}
	if err != nil {
		return nil, wrapStoreErr("read data", err)
	}
	if item.CreatedAt, err = ParseTimestamp(createdAt); err != nil {
		return nil, wrapStoreErr("parse data timestamp", err)
	}
	return item, nil
}

// --- Reconciliation / retention ---

// ListStaleSessions returns sessions whose background task started before the
// cutoff and never reached a terminal status. Used by the out-of-band
// stuck-session sweep.
func (s *LibSQLStore) ListStaleSessions(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT session_id FROM journal_events
		 WHERE status = ? AND created_at < ?
		   AND session_id NOT IN (
		     SELECT session_id FROM journal_events WHERE status IN (?, ?, ?)
		   )`,
		schema.StatusBackgroundTaskStarted, FormatTimestamp(cutoff),
		schema.StatusBackgroundTaskCompleted, schema.StatusBackgroundTaskFailed, schema.StatusSessionForceStopped,
	)
	if err != nil {
		return nil, wrapStoreErr("list stale sessions", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapStoreErr("scan stale session", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PurgeExpired deletes rows whose TTL elapsed before now, emulating
// store-native expiry. Rows with ttl_seconds = 0 never expire. Returns the
// total number of rows removed.
func (s *LibSQLStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	epoch := now.UTC().Unix()
	for _, table := range []string{"journal_events", "session_metadata", "journal_tasks", "session_data"} {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE ttl_seconds > 0 AND ttl_seconds < ?`, table), epoch)
		if err != nil {
			return total, wrapStoreErr("purge "+table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	task := &Task{}
	var startTime string
	var endTime, errMsg sql.NullString
	var duration sql.NullInt64
	err := row.Scan(&task.SessionID, &task.RecordKey, &task.PhaseName, &task.Status,
		&startTime, &endTime, &duration, &errMsg, &task.TTLSeconds)
	if err != nil {
		return nil, err
	}
	if task.StartTime, err = ParseTimestamp(startTime); err != nil {
		return nil, err
	}
	if endTime.Valid {
		t, err := ParseTimestamp(endTime.String)
		if err != nil {
			return nil, err
		}
		task.EndTime = &t
	}
	task.DurationSeconds = duration.Int64
	task.ErrorMessage = errMsg.String
	return task, nil
}

func storeNotFound(resource, id string) *schema.Error {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func wrapStoreErr(op string, err error) error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %v", op, err).WithCause(err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint")
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
