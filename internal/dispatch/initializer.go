package dispatch

import (
	"context"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/logging"
	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// InitializeSession establishes a session in the journal: a best-effort
// metadata write followed by a strict SESSION_INITIATED event. Only the
// event write can fail the call; the caller should treat an error as
// "session does not exist".
func (d *Dispatcher) InitializeSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "session_id is required")
	}
	ctx = logging.WithSessionID(ctx, sessionID)

	d.recorder.RecordMetadata(ctx, sessionID)
	if err := d.recorder.RecordEvent(ctx, sessionID, schema.StatusSessionInitiated); err != nil {
		return err
	}

	logging.LogWith(ctx, d.logger).InfoContext(ctx, "session initialized")
	return nil
}
