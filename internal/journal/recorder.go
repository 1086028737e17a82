package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/logging"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/store"
	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// DefaultTTL is how long journal records live before the retention sweep
// removes them.
const DefaultTTL = 30 * 24 * time.Hour

// Recorder writes session lifecycle events and metadata to the journal.
//
// Event writes are strict: validation failures and store failures propagate
// to the caller after bounded retries. Metadata writes are best-effort:
// metadata is descriptive, losing it must never fail a workflow step.
type Recorder struct {
	store  store.Store
	logger *slog.Logger
	ttl    time.Duration
	policy RetryPolicy
	now    func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithTTL overrides the record time-to-live.
func WithTTL(ttl time.Duration) RecorderOption {
	return func(r *Recorder) { r.ttl = ttl }
}

// WithRetryPolicy overrides the write retry policy.
func WithRetryPolicy(p RetryPolicy) RecorderOption {
	return func(r *Recorder) { r.policy = p }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a Recorder backed by the given store.
func NewRecorder(s store.Store, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  s,
		logger: logger,
		ttl:    DefaultTTL,
		policy: DefaultRetryPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EventOption configures a single event record.
type EventOption func(*store.Event)

// WithErrorMessage attaches a failure description to the event.
func WithErrorMessage(msg string) EventOption {
	return func(e *store.Event) { e.ErrorMessage = msg }
}

// RecordEvent validates and writes one immutable lifecycle event.
//
// The status must be a predefined lifecycle status or match the dynamic task
// grammar; anything else is rejected before touching the store. The write is
// conditional on the composite key not existing, so a duplicate delivery
// surfaces as a CONFLICT instead of silently overwriting history.
func (r *Recorder) RecordEvent(ctx context.Context, sessionID, status string, opts ...EventOption) error {
	if sessionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "session_id is required")
	}
	if err := schema.ValidateEventStatus(status, schema.PredefinedStatuses()); err != nil {
		logging.LogWith(ctx, r.logger).WarnContext(ctx, "rejected event status",
			slog.String("status", status), slog.Any("error", err))
		return err
	}

	now := r.now().UTC()
	event := &store.Event{
		SessionID:  sessionID,
		EventID:    uuid.NewString(),
		Status:     status,
		CreatedAt:  now,
		TTLSeconds: now.Add(r.ttl).Unix(),
	}
	for _, opt := range opts {
		opt(event)
	}

	err := retryWrite(ctx, r.policy, func() error {
		return r.store.AppendEvent(ctx, event)
	})
	if err != nil {
		logging.LogWith(ctx, r.logger).ErrorContext(ctx, "failed to record event",
			slog.String("status", status), slog.Any("error", err))
		return err
	}

	logging.LogWith(ctx, r.logger).InfoContext(ctx, "recorded event",
		slog.String("status", status), slog.String("event_id", event.EventID))
	return nil
}

// RecordMetadata writes the session's descriptive metadata record.
// Best-effort: failures are logged and swallowed so callers on the hot path
// never fail because a descriptive record could not land.
func (r *Recorder) RecordMetadata(ctx context.Context, sessionID string) {
	if sessionID == "" {
		r.logger.WarnContext(ctx, "skipping metadata write: empty session_id")
		return
	}

	now := r.now().UTC()
	md := &store.Metadata{
		SessionID:  sessionID,
		CreatedAt:  now,
		TTLSeconds: now.Add(r.ttl).Unix(),
	}

	err := retryWrite(ctx, r.policy, func() error {
		return r.store.PutMetadata(ctx, md)
	})
	if err != nil {
		logging.LogWith(ctx, r.logger).WarnContext(ctx, "failed to record session metadata",
			slog.Any("error", err))
		return
	}
	logging.LogWith(ctx, r.logger).DebugContext(ctx, "recorded session metadata")
}

// Events returns a session's journal, oldest first.
func (r *Recorder) Events(ctx context.Context, sessionID string, filter store.EventFilter) ([]*store.Event, error) {
	return r.store.GetEvents(ctx, sessionID, filter)
}

// TTL returns the configured record time-to-live.
func (r *Recorder) TTL() time.Duration { return r.ttl }
