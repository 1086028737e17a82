package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/pipeline"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/store"
	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// LocalRuntime runs the analysis pipeline in-process. It satisfies
// AgentRuntime so the invoker and the stuck-session cleaner work the same
// against a local pipeline as against a remote agent runtime.
type LocalRuntime struct {
	orch  *pipeline.Orchestrator
	store store.Store
	ttl   time.Duration

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewLocalRuntime creates a LocalRuntime. st may be nil when prompts do not
// need to be persisted for the agents.
func NewLocalRuntime(orch *pipeline.Orchestrator, st store.Store, ttl time.Duration) *LocalRuntime {
	return &LocalRuntime{
		orch:    orch,
		store:   st,
		ttl:     ttl,
		running: make(map[string]context.CancelFunc),
	}
}

// Invoke runs the pipeline for the session and blocks until it finishes.
// A session can only run once at a time.
func (r *LocalRuntime) Invoke(ctx context.Context, sessionID, prompt string) error {
	runCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if _, ok := r.running[sessionID]; ok {
		r.mu.Unlock()
		cancel()
		return schema.NewErrorf(schema.ErrCodeConflict, "session %s is already running", sessionID)
	}
	r.running[sessionID] = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.running, sessionID)
		r.mu.Unlock()
		cancel()
	}()

	if prompt != "" && r.store != nil {
		now := time.Now().UTC()
		if err := r.store.WriteData(runCtx, &store.DataItem{
			SessionID:  sessionID,
			DataKey:    pipeline.DataKeyUserPrompt,
			Content:    prompt,
			CreatedAt:  now,
			TTLSeconds: now.Add(r.ttl).Unix(),
		}); err != nil {
			return err
		}
	}

	return r.orch.Run(runCtx, sessionID)
}

// Ping reports HealthyBusy while the session's pipeline is running.
func (r *LocalRuntime) Ping(ctx context.Context, sessionID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.running[sessionID]; ok {
		return PingHealthyBusy, nil
	}
	return PingHealthy, nil
}

// ForceStop cancels the session's pipeline. Stopping a session that is not
// running is a no-op.
func (r *LocalRuntime) ForceStop(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	cancel, ok := r.running[sessionID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}
