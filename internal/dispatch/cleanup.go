package dispatch

import (
	"context"
	"log/slog"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/journal"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/logging"
	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// Cleaner reconciles stuck runtime sessions out of band. It never
// cooperatively cancels a pipeline; it force-stops the remote runtime
// session when the runtime reports it busy long after it should have
// finished.
type Cleaner struct {
	recorder *journal.Recorder
	runtime  AgentRuntime
	logger   *slog.Logger
}

// NewCleaner creates a Cleaner.
func NewCleaner(recorder *journal.Recorder, runtime AgentRuntime, logger *slog.Logger) *Cleaner {
	return &Cleaner{recorder: recorder, runtime: runtime, logger: logger}
}

// CleanupStuckSession handles one stale session given its runtime ping
// status. HealthyBusy means the runtime is still churning: force stop and
// journal AGENT_RUNTIME_SESSION_FORCE_STOPPED. A failed stop journals
// AGENT_RUNTIME_SESSION_FORCE_STOP_FAILED and propagates. Any other status
// journals AGENT_RUNTIME_SESSION_STOP_NOT_REQUIRED without stopping.
func (c *Cleaner) CleanupStuckSession(ctx context.Context, sessionID, pingStatus string) error {
	if sessionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "session_id is required")
	}
	ctx = logging.WithSessionID(ctx, sessionID)

	if pingStatus != PingHealthyBusy {
		logging.LogWith(ctx, c.logger).InfoContext(ctx, "session does not need a stop",
			slog.String("ping_status", pingStatus))
		return c.recorder.RecordEvent(ctx, sessionID, schema.StatusSessionStopNotRequired)
	}

	if err := c.runtime.ForceStop(ctx, sessionID); err != nil {
		logging.LogWith(ctx, c.logger).ErrorContext(ctx, "force stop failed",
			slog.Any("error", err))
		if rerr := c.recorder.RecordEvent(ctx, sessionID, schema.StatusSessionForceStopFailed,
			journal.WithErrorMessage(err.Error())); rerr != nil {
			logging.LogWith(ctx, c.logger).ErrorContext(ctx, "failed to journal force stop failure",
				slog.Any("error", rerr))
		}
		return err
	}

	logging.LogWith(ctx, c.logger).InfoContext(ctx, "stuck session force stopped")
	return c.recorder.RecordEvent(ctx, sessionID, schema.StatusSessionForceStopped)
}

// ReconcileStale pings and cleans every stale session. Errors on individual
// sessions are logged and do not stop the sweep; the first error is
// returned after all sessions are attempted.
func (c *Cleaner) ReconcileStale(ctx context.Context, sessionIDs []string) error {
	var firstErr error
	for _, id := range sessionIDs {
		status, err := c.runtime.Ping(ctx, id)
		if err != nil {
			logging.LogWith(logging.WithSessionID(ctx, id), c.logger).WarnContext(ctx,
				"ping failed during reconciliation", slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := c.CleanupStuckSession(ctx, id, status); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
