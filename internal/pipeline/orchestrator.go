package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/journal"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/logging"
	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// DefaultTimeout bounds one background pipeline run.
const DefaultTimeout = 15 * time.Minute

// Orchestrator runs the background pipeline for a session: it journals
// AGENT_BACKGROUND_TASK_STARTED, executes the stages in order, and journals
// exactly one terminal event, COMPLETED or FAILED. A stage failure fails the
// whole pipeline with the originating stage's error preserved.
//
// The orchestrator never retries failed stages. Retry policy belongs to the
// transports underneath; re-running a half-finished pipeline would double
// journal entries.
type Orchestrator struct {
	recorder *journal.Recorder
	stages   []Stage
	spawner  *Spawner
	timeout  time.Duration
	logger   *slog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithTimeout bounds a pipeline run. Zero disables the bound.
func WithTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.timeout = d }
}

// NewOrchestrator creates an Orchestrator running the given stages in order.
func NewOrchestrator(recorder *journal.Recorder, spawner *Spawner, logger *slog.Logger, stages []Stage, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		recorder: recorder,
		stages:   stages,
		spawner:  spawner,
		timeout:  DefaultTimeout,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Launch schedules the pipeline in the background and returns immediately.
// The error reports scheduling failure only; the pipeline's own outcome is
// observable solely through the journal.
func (o *Orchestrator) Launch(ctx context.Context, sessionID string) error {
	err := o.spawner.Spawn(ctx, func(bgCtx context.Context) {
		_ = o.Run(bgCtx, sessionID)
	})
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeScheduling,
			"could not schedule background pipeline: %v", err).WithCause(err)
	}
	return nil
}

// Run executes the pipeline synchronously. Exposed for the background
// goroutine and for tests; production callers go through Launch.
func (o *Orchestrator) Run(ctx context.Context, sessionID string) error {
	ctx = logging.WithSessionID(ctx, sessionID)
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	if err := o.recorder.RecordEvent(ctx, sessionID, schema.StatusBackgroundTaskStarted); err != nil {
		return err
	}

	failure := o.runStages(ctx, sessionID)

	// Terminal events must land even when the pipeline context expired.
	termCtx := context.WithoutCancel(ctx)
	if failure != nil {
		// Full detail server-side only; the journal carries the sanitized code + message.
		logging.LogWith(ctx, o.logger).ErrorContext(ctx, "background pipeline failed",
			slog.String("code", failure.Code), slog.Any("error", failure))
		if err := o.recorder.RecordEvent(termCtx, sessionID, schema.StatusBackgroundTaskFailed,
			journal.WithErrorMessage(FailureMessage(failure))); err != nil {
			logging.LogWith(ctx, o.logger).ErrorContext(ctx, "failed to journal pipeline failure",
				slog.Any("error", err))
		}
		return failure
	}

	if err := o.recorder.RecordEvent(termCtx, sessionID, schema.StatusBackgroundTaskCompleted); err != nil {
		return err
	}
	logging.LogWith(ctx, o.logger).InfoContext(ctx, "background pipeline completed")
	return nil
}

// runStages executes the stages sequentially, converting a panic into a
// classified failure so the terminal FAILED event still lands.
func (o *Orchestrator) runStages(ctx context.Context, sessionID string) (failure *schema.Error) {
	defer func() {
		if r := recover(); r != nil {
			failure = schema.NewErrorf(schema.ErrCodeRuntime, "pipeline panic: %v", r)
		}
	}()

	for _, stage := range o.stages {
		stageCtx := logging.WithStage(ctx, stage.Name())
		logging.LogWith(stageCtx, o.logger).InfoContext(stageCtx, "stage starting")
		if err := stage.Run(stageCtx, sessionID); err != nil {
			return ClassifyFailure(err)
		}
	}
	return nil
}
