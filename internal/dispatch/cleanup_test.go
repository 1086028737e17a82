package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/journal"
	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

type fakeRuntime struct {
	pingStatus map[string]string
	pingErr    error
	invokeErr  error
	stopErr    error
	invoked    []string
	forceStops []string
	lastPrompt string
}

func (f *fakeRuntime) Invoke(ctx context.Context, sessionID, prompt string) error {
	f.invoked = append(f.invoked, sessionID)
	f.lastPrompt = prompt
	return f.invokeErr
}

func (f *fakeRuntime) Ping(ctx context.Context, sessionID string) (string, error) {
	if f.pingErr != nil {
		return "", f.pingErr
	}
	if status, ok := f.pingStatus[sessionID]; ok {
		return status, nil
	}
	return PingHealthy, nil
}

func (f *fakeRuntime) ForceStop(ctx context.Context, sessionID string) error {
	f.forceStops = append(f.forceStops, sessionID)
	return f.stopErr
}

func TestCleanupHealthyBusyForceStops(t *testing.T) {
	s := newTestStore(t)
	rec := journal.NewRecorder(s, testLogger())
	rt := &fakeRuntime{}
	c := NewCleaner(rec, rt, testLogger())

	require.NoError(t, c.CleanupStuckSession(context.Background(), "sess-1", PingHealthyBusy))

	assert.Equal(t, []string{"sess-1"}, rt.forceStops)
	assert.Equal(t, []string{schema.StatusSessionForceStopped}, statuses(t, s, "sess-1"))
}

func TestCleanupHealthySkipsStop(t *testing.T) {
	s := newTestStore(t)
	rec := journal.NewRecorder(s, testLogger())
	rt := &fakeRuntime{}
	c := NewCleaner(rec, rt, testLogger())

	require.NoError(t, c.CleanupStuckSession(context.Background(), "sess-1", PingHealthy))
	// Unknown statuses are treated the same way.
	require.NoError(t, c.CleanupStuckSession(context.Background(), "sess-2", "Degraded"))

	assert.Empty(t, rt.forceStops)
	assert.Equal(t, []string{schema.StatusSessionStopNotRequired}, statuses(t, s, "sess-1"))
	assert.Equal(t, []string{schema.StatusSessionStopNotRequired}, statuses(t, s, "sess-2"))
}

func TestCleanupForceStopFailure(t *testing.T) {
	s := newTestStore(t)
	rec := journal.NewRecorder(s, testLogger())
	stopErr := errors.New("runtime did not respond")
	rt := &fakeRuntime{stopErr: stopErr}
	c := NewCleaner(rec, rt, testLogger())

	err := c.CleanupStuckSession(context.Background(), "sess-1", PingHealthyBusy)
	require.ErrorIs(t, err, stopErr)

	// The failure is journaled before the error propagates.
	events := statuses(t, s, "sess-1")
	assert.Equal(t, []string{schema.StatusSessionForceStopFailed}, events)
}

func TestReconcileStale(t *testing.T) {
	s := newTestStore(t)
	rec := journal.NewRecorder(s, testLogger())
	rt := &fakeRuntime{pingStatus: map[string]string{
		"sess-busy": PingHealthyBusy,
		"sess-ok":   PingHealthy,
	}}
	c := NewCleaner(rec, rt, testLogger())

	require.NoError(t, c.ReconcileStale(context.Background(), []string{"sess-busy", "sess-ok"}))

	assert.Equal(t, []string{"sess-busy"}, rt.forceStops)
	assert.Equal(t, []string{schema.StatusSessionForceStopped}, statuses(t, s, "sess-busy"))
	assert.Equal(t, []string{schema.StatusSessionStopNotRequired}, statuses(t, s, "sess-ok"))
}

func TestReconcileStaleContinuesOnPingFailure(t *testing.T) {
	s := newTestStore(t)
	rec := journal.NewRecorder(s, testLogger())
	pingErr := errors.New("network down")
	rt := &fakeRuntime{pingErr: pingErr}
	c := NewCleaner(rec, rt, testLogger())

	err := c.ReconcileStale(context.Background(), []string{"sess-1", "sess-2"})
	assert.ErrorIs(t, err, pingErr)
}
