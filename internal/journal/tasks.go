package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/logging"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/store"
	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

type taskKey struct {
	sessionID string
	phase     string
}

type taskEntry struct {
	recordKey string
	startTime time.Time
}

// TaskTracker manages per-phase task records: one record per start_task,
// finalized exactly once by complete_task.
//
// A process-local write-through cache remembers (session, phase) →
// record key so the common start/complete pair avoids a lookup, but
// completion always works without the cache: FindTaskByPhase resolves the
// record durably, so a task started in one process can be completed in
// another.
type TaskTracker struct {
	store  store.Store
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	active map[taskKey]taskEntry
}

// TrackerOption configures a TaskTracker.
type TrackerOption func(*TaskTracker)

// WithTrackerTTL overrides the task record time-to-live.
func WithTrackerTTL(ttl time.Duration) TrackerOption {
	return func(t *TaskTracker) { t.ttl = ttl }
}

// WithTrackerClock overrides the time source. Tests only.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *TaskTracker) { t.now = now }
}

// NewTaskTracker creates a TaskTracker backed by the given store.
func NewTaskTracker(s store.Store, logger *slog.Logger, opts ...TrackerOption) *TaskTracker {
	t := &TaskTracker{
		store:  s,
		logger: logger,
		ttl:    DefaultTTL,
		now:    time.Now,
		active: make(map[taskKey]taskEntry),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TaskStart is the result of a successful StartTask.
type TaskStart struct {
	PhaseName string
	RecordKey string
	Status    string
	StartTime time.Time
}

// TaskResult is the result of a successful CompleteTask.
type TaskResult struct {
	PhaseName       string
	RecordKey       string
	Status          string
	EndTime         time.Time
	DurationSeconds int64
}

// StartTask sanitizes the phase name, writes a TASK_<PHASE>_STARTED record
// and caches the record key for the matching completion.
func (t *TaskTracker) StartTask(ctx context.Context, sessionID, phaseName string) (*TaskStart, error) {
	if sessionID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "session_id is required")
	}
	phase := schema.SanitizePhaseName(phaseName)
	if !schema.ValidPhaseName(phase) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"phase name %q has no usable characters after sanitization", phaseName).
			WithDetails(map[string]any{"phase_name": phaseName})
	}

	now := t.now().UTC()
	task := &store.Task{
		SessionID:  sessionID,
		RecordKey:  store.TaskKeyPrefix + store.FormatTimestamp(now) + "#" + phase,
		PhaseName:  phase,
		Status:     schema.TaskStatus(phase, schema.TaskStarted),
		StartTime:  now,
		TTLSeconds: now.Add(t.ttl).Unix(),
	}
	if err := t.store.CreateTask(ctx, task); err != nil {
		logging.LogWith(ctx, t.logger).ErrorContext(ctx, "failed to start task",
			slog.String("phase", phase), slog.Any("error", err))
		return nil, err
	}

	t.mu.Lock()
	t.active[taskKey{sessionID, phase}] = taskEntry{recordKey: task.RecordKey, startTime: now}
	t.mu.Unlock()

	logging.LogWith(ctx, t.logger).InfoContext(ctx, "task started",
		slog.String("phase", phase), slog.String("record_key", task.RecordKey))

	return &TaskStart{
		PhaseName: phase,
		RecordKey: task.RecordKey,
		Status:    task.Status,
		StartTime: now,
	}, nil
}

// CompleteTask finalizes the most recent task record for the phase. The
// status is one of COMPLETED, FAILED, CANCELLED or SKIPPED; anything else
// (including empty) completes. Duration is whole seconds from start to end.
//
// Completing a phase that was never started returns TASK_NOT_FOUND.
// Completing an already-finalized phase is idempotent: the stored completion
// is returned unchanged, regardless of the status argument.
func (t *TaskTracker) CompleteTask(ctx context.Context, sessionID, phaseName, status, errorMessage string) (*TaskResult, error) {
	if sessionID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "session_id is required")
	}
	phase := schema.SanitizePhaseName(phaseName)
	if !schema.ValidPhaseName(phase) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"phase name %q has no usable characters after sanitization", phaseName).
			WithDetails(map[string]any{"phase_name": phaseName})
	}

	key := taskKey{sessionID, phase}
	t.mu.Lock()
	entry, cached := t.active[key]
	t.mu.Unlock()

	if !cached {
		// Started elsewhere (or the process restarted): resolve durably.
		task, err := t.store.FindTaskByPhase(ctx, sessionID, phase)
		if err != nil {
			return nil, err
		}
		if task.EndTime != nil {
			logging.LogWith(ctx, t.logger).InfoContext(ctx, "task already finalized",
				slog.String("phase", phase), slog.String("status", task.Status))
			return &TaskResult{
				PhaseName:       phase,
				RecordKey:       task.RecordKey,
				Status:          task.Status,
				EndTime:         *task.EndTime,
				DurationSeconds: task.DurationSeconds,
			}, nil
		}
		entry = taskEntry{recordKey: task.RecordKey, startTime: task.StartTime}
	}

	now := t.now().UTC()
	duration := int64(now.Sub(entry.startTime).Seconds())
	if duration < 0 {
		duration = 0
	}
	finalStatus := schema.TaskStatus(phase, schema.TaskCompletionStatus(status))

	err := t.store.CompleteTask(ctx, sessionID, entry.recordKey, store.TaskCompletion{
		Status:          finalStatus,
		EndTime:         now,
		DurationSeconds: duration,
		ErrorMessage:    errorMessage,
	})
	if err != nil {
		logging.LogWith(ctx, t.logger).ErrorContext(ctx, "failed to complete task",
			slog.String("phase", phase), slog.Any("error", err))
		return nil, err
	}

	t.mu.Lock()
	delete(t.active, key)
	t.mu.Unlock()

	logging.LogWith(ctx, t.logger).InfoContext(ctx, "task completed",
		slog.String("phase", phase), slog.String("status", finalStatus),
		slog.Int64("duration_seconds", duration))

	return &TaskResult{
		PhaseName:       phase,
		RecordKey:       entry.recordKey,
		Status:          finalStatus,
		EndTime:         now,
		DurationSeconds: duration,
	}, nil
}
