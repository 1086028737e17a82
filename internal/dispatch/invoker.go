package dispatch

import (
	"context"
	"log/slog"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/journal"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/logging"
	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// Ping statuses reported by the agent runtime.
const (
	PingHealthy     = "Healthy"
	PingHealthyBusy = "HealthyBusy"
)

// AgentRuntime drives the remote agent runtime hosting the LLM agent.
type AgentRuntime interface {
	// Invoke runs the agent for the session with the given prompt and blocks
	// until the agent finishes.
	Invoke(ctx context.Context, sessionID, prompt string) error
	// Ping reports the runtime session's health status.
	Ping(ctx context.Context, sessionID string) (string, error)
	// ForceStop terminates the runtime session.
	ForceStop(ctx context.Context, sessionID string) error
}

// Invoker journals agent invocations around the runtime call.
type Invoker struct {
	recorder *journal.Recorder
	runtime  AgentRuntime
	logger   *slog.Logger
}

// NewInvoker creates an Invoker.
func NewInvoker(recorder *journal.Recorder, runtime AgentRuntime, logger *slog.Logger) *Invoker {
	return &Invoker{recorder: recorder, runtime: runtime, logger: logger}
}

// InvokeAgent drives one agent run: AGENT_INVOCATION_STARTED, the runtime
// call, then AGENT_INVOCATION_SUCCEEDED or AGENT_INVOCATION_FAILED. A
// runtime error propagates only after the FAILED event is journaled.
func (i *Invoker) InvokeAgent(ctx context.Context, sessionID, prompt string) error {
	if sessionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "session_id is required")
	}
	ctx = logging.WithSessionID(ctx, sessionID)

	if err := i.recorder.RecordEvent(ctx, sessionID, schema.StatusAgentInvocationStarted); err != nil {
		return err
	}

	if err := i.runtime.Invoke(ctx, sessionID, prompt); err != nil {
		logging.LogWith(ctx, i.logger).ErrorContext(ctx, "agent invocation failed",
			slog.Any("error", err))
		if rerr := i.recorder.RecordEvent(context.WithoutCancel(ctx), sessionID,
			schema.StatusAgentInvocationFailed, journal.WithErrorMessage(err.Error())); rerr != nil {
			logging.LogWith(ctx, i.logger).ErrorContext(ctx, "failed to journal invocation failure",
				slog.Any("error", rerr))
		}
		return err
	}

	if err := i.recorder.RecordEvent(ctx, sessionID, schema.StatusAgentInvocationSucceeded); err != nil {
		return err
	}
	logging.LogWith(ctx, i.logger).InfoContext(ctx, "agent invocation succeeded")
	return nil
}
