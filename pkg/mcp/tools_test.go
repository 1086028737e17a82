package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/artifacts"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/journal"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/store"
	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// --- Test infrastructure ---

type testEnv struct {
	store     *store.LibSQLStore
	artifacts *artifacts.FSStorage
	server    *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(dir, "mcp.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	fs, err := artifacts.NewFSStorage(filepath.Join(dir, "artifacts"))
	require.NoError(t, err)

	logger := newTestLogger()
	srv := NewServer(ServerDeps{
		Recorder:  journal.NewRecorder(s, logger),
		Tracker:   journal.NewTaskTracker(s, logger),
		Store:     s,
		Artifacts: fs,
		Logger:    logger,
	})

	return &testEnv{store: s, artifacts: fs, server: srv}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text := mcp.GetTextFromContent(result.Content[0])
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &payload))
	return payload
}

func (e *testEnv) sessionStatuses(t *testing.T, sessionID string) []string {
	t.Helper()
	events, err := e.store.GetEvents(context.Background(), sessionID, store.EventFilter{})
	require.NoError(t, err)
	statuses := make([]string, 0, len(events))
	for _, ev := range events {
		statuses = append(statuses, ev.Status)
	}
	return statuses
}

// --- Journal tool ---

func TestJournalStartAndCompleteTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.server.handleJournal(ctx, buildRequest("journal", map[string]any{
		"action":     "start_task",
		"phase_name": "Cost Analysis",
		"session_id": "sess-1",
	}))
	require.NoError(t, err)

	payload := decodeResult(t, result)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, schema.TaskInProgress, payload["status"])
	assert.Equal(t, "COST_ANALYSIS", payload["phase_name"])
	assert.Contains(t, payload["record_key"], store.TaskKeyPrefix)
	assert.NotEmpty(t, payload["timestamp"])

	result, err = env.server.handleJournal(ctx, buildRequest("journal", map[string]any{
		"action":     "complete_task",
		"phase_name": "Cost Analysis",
		"session_id": "sess-1",
	}))
	require.NoError(t, err)

	payload = decodeResult(t, result)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "TASK_COST_ANALYSIS_COMPLETED", payload["status"])
	assert.GreaterOrEqual(t, payload["duration_seconds"], float64(0))

	assert.ElementsMatch(t,
		[]string{"TASK_COST_ANALYSIS_STARTED", "TASK_COST_ANALYSIS_COMPLETED"},
		env.sessionStatuses(t, "sess-1"))
}

func TestJournalCompleteTaskFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.server.handleJournal(ctx, buildRequest("journal", map[string]any{
		"action":     "start_task",
		"phase_name": "Report Generation",
		"session_id": "sess-2",
	}))
	require.NoError(t, err)

	result, err := env.server.handleJournal(ctx, buildRequest("journal", map[string]any{
		"action":        "complete_task",
		"phase_name":    "Report Generation",
		"status":        "FAILED",
		"error_message": "model invocation throttled",
		"session_id":    "sess-2",
	}))
	require.NoError(t, err)

	payload := decodeResult(t, result)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "TASK_REPORT_GENERATION_FAILED", payload["status"])

	events, err := env.store.GetEvents(ctx, "sess-2",
		store.EventFilter{Status: "TASK_REPORT_GENERATION_FAILED"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "model invocation throttled", events[0].ErrorMessage)
}

func TestJournalCompleteTaskNeverStarted(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleJournal(context.Background(), buildRequest("journal", map[string]any{
		"action":     "complete_task",
		"phase_name": "Never Started",
		"session_id": "sess-3",
	}))
	require.NoError(t, err)

	payload := decodeResult(t, result)
	assert.Equal(t, false, payload["success"])
	assert.Equal(t, schema.ErrCodeTaskNotFound, payload["error_code"])

	// No completion event when the task record was never created.
	assert.Empty(t, env.sessionStatuses(t, "sess-3"))
}

func TestJournalInvalidAction(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleJournal(context.Background(), buildRequest("journal", map[string]any{
		"action":     "pause_task",
		"phase_name": "Cost Analysis",
		"session_id": "sess-4",
	}))
	require.NoError(t, err)

	payload := decodeResult(t, result)
	assert.Equal(t, false, payload["success"])
	assert.Equal(t, schema.ErrCodeValidation, payload["error_code"])
	assert.Contains(t, payload["error"], "pause_task")
}

func TestJournalValidationOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Action is checked before phase_name.
	result, err := env.server.handleJournal(ctx, buildRequest("journal", map[string]any{}))
	require.NoError(t, err)
	payload := decodeResult(t, result)
	assert.Equal(t, false, payload["success"])
	assert.Contains(t, payload["error"], "action")

	// phase_name is checked before session resolution.
	result, err = env.server.handleJournal(ctx, buildRequest("journal", map[string]any{
		"action": "start_task",
	}))
	require.NoError(t, err)
	payload = decodeResult(t, result)
	assert.Equal(t, schema.ErrCodeValidation, payload["error_code"])
	assert.Contains(t, payload["error"], "phase_name")
}

func TestJournalNoSession(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleJournal(context.Background(), buildRequest("journal", map[string]any{
		"action":     "start_task",
		"phase_name": "Cost Analysis",
	}))
	require.NoError(t, err)

	payload := decodeResult(t, result)
	assert.Equal(t, false, payload["success"])
	assert.Equal(t, schema.ErrCodeNoSession, payload["error_code"])
}

func TestJournalUnusablePhaseName(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleJournal(context.Background(), buildRequest("journal", map[string]any{
		"action":     "start_task",
		"phase_name": "!!!",
		"session_id": "sess-5",
	}))
	require.NoError(t, err)

	payload := decodeResult(t, result)
	assert.Equal(t, false, payload["success"])
	assert.Equal(t, schema.ErrCodeValidation, payload["error_code"])
}

func TestJournalSessionBinding(t *testing.T) {
	env := newTestEnv(t)

	env.server.Bindings().Bind("conn-1", "sess-bound")
	ctx := env.server.MCPServer().WithContext(context.Background(), fakeClientSession{id: "conn-1"})

	result, err := env.server.handleJournal(ctx, buildRequest("journal", map[string]any{
		"action":     "start_task",
		"phase_name": "Cost Analysis",
	}))
	require.NoError(t, err)

	payload := decodeResult(t, result)
	assert.Equal(t, true, payload["success"])
	assert.ElementsMatch(t, []string{"TASK_COST_ANALYSIS_STARTED"}, env.sessionStatuses(t, "sess-bound"))
}

func TestJournalExplicitSessionOverridesBinding(t *testing.T) {
	env := newTestEnv(t)

	env.server.Bindings().Bind("conn-1", "sess-bound")
	ctx := env.server.MCPServer().WithContext(context.Background(), fakeClientSession{id: "conn-1"})

	result, err := env.server.handleJournal(ctx, buildRequest("journal", map[string]any{
		"action":     "start_task",
		"phase_name": "Cost Analysis",
		"session_id": "sess-explicit",
	}))
	require.NoError(t, err)

	payload := decodeResult(t, result)
	assert.Equal(t, true, payload["success"])
	assert.NotEmpty(t, env.sessionStatuses(t, "sess-explicit"))
	assert.Empty(t, env.sessionStatuses(t, "sess-bound"))
}

// --- Data store tool ---

func TestDataStoreWriteAndRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.server.handleDataStore(ctx, buildRequest("data_store", map[string]any{
		"action":     "write",
		"key":        "ANALYSIS_RESULTS",
		"content":    `{"recommendations":[]}`,
		"session_id": "sess-1",
	}))
	require.NoError(t, err)
	payload := decodeResult(t, result)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "ANALYSIS_RESULTS", payload["key"])

	result, err = env.server.handleDataStore(ctx, buildRequest("data_store", map[string]any{
		"action":     "read",
		"key":        "ANALYSIS_RESULTS",
		"session_id": "sess-1",
	}))
	require.NoError(t, err)
	payload = decodeResult(t, result)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, `{"recommendations":[]}`, payload["content"])
}

func TestDataStoreReadWithQuery(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.server.handleDataStore(ctx, buildRequest("data_store", map[string]any{
		"action":     "write",
		"key":        "ANALYSIS_RESULTS",
		"content":    `{"recommendations":[{"resource_id":"i-1","action":"terminate"},{"resource_id":"i-2","action":"downsize"}]}`,
		"session_id": "sess-1",
	}))
	require.NoError(t, err)

	result, err := env.server.handleDataStore(ctx, buildRequest("data_store", map[string]any{
		"action":     "read",
		"key":        "ANALYSIS_RESULTS",
		"query":      ".recommendations | length",
		"session_id": "sess-1",
	}))
	require.NoError(t, err)
	payload := decodeResult(t, result)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, float64(2), payload["result"])

	// Multiple outputs come back as a list.
	result, err = env.server.handleDataStore(ctx, buildRequest("data_store", map[string]any{
		"action":     "read",
		"key":        "ANALYSIS_RESULTS",
		"query":      ".recommendations[].resource_id",
		"session_id": "sess-1",
	}))
	require.NoError(t, err)
	payload = decodeResult(t, result)
	assert.Equal(t, []any{"i-1", "i-2"}, payload["result"])
}

func TestDataStoreQueryErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.server.handleDataStore(ctx, buildRequest("data_store", map[string]any{
		"action":     "write",
		"key":        "NOTES",
		"content":    "plain text, not json",
		"session_id": "sess-1",
	}))
	require.NoError(t, err)

	// Malformed jq expression.
	result, err := env.server.handleDataStore(ctx, buildRequest("data_store", map[string]any{
		"action":     "read",
		"key":        "NOTES",
		"query":      ".[",
		"session_id": "sess-1",
	}))
	require.NoError(t, err)
	payload := decodeResult(t, result)
	assert.Equal(t, false, payload["success"])
	assert.Equal(t, schema.ErrCodeValidation, payload["error_code"])

	// Queries only work on JSON content.
	result, err = env.server.handleDataStore(ctx, buildRequest("data_store", map[string]any{
		"action":     "read",
		"key":        "NOTES",
		"query":      ".foo",
		"session_id": "sess-1",
	}))
	require.NoError(t, err)
	payload = decodeResult(t, result)
	assert.Equal(t, false, payload["success"])
	assert.Equal(t, schema.ErrCodeValidation, payload["error_code"])
}

func TestDataStoreReadMissingKey(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleDataStore(context.Background(), buildRequest("data_store", map[string]any{
		"action":     "read",
		"key":        "MISSING",
		"session_id": "sess-1",
	}))
	require.NoError(t, err)

	payload := decodeResult(t, result)
	assert.Equal(t, false, payload["success"])
	assert.Equal(t, schema.ErrCodeNotFound, payload["error_code"])
}

func TestDataStoreValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]any
	}{
		{"invalid action", map[string]any{"action": "delete", "key": "K", "session_id": "s"}},
		{"missing key", map[string]any{"action": "read", "session_id": "s"}},
		{"write without content", map[string]any{"action": "write", "key": "K", "session_id": "s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := env.server.handleDataStore(ctx, buildRequest("data_store", tt.args))
			require.NoError(t, err)
			payload := decodeResult(t, result)
			assert.Equal(t, false, payload["success"])
			assert.Equal(t, schema.ErrCodeValidation, payload["error_code"])
		})
	}
}

// --- Report tool ---

func TestReportToolDefaultName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.server.handleReport(ctx, buildRequest("report", map[string]any{
		"content":    "# Cost Report\n\nNo savings found.",
		"session_id": "sess-1",
	}))
	require.NoError(t, err)

	payload := decodeResult(t, result)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "cost-report.md", payload["name"])

	content, err := env.artifacts.Get(ctx, "sess-1", "cost-report.md")
	require.NoError(t, err)
	assert.Contains(t, string(content), "No savings found")
}

func TestReportToolCustomName(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.server.handleReport(ctx, buildRequest("report", map[string]any{
		"content":    "summary",
		"name":       "executive-summary.md",
		"session_id": "sess-1",
	}))
	require.NoError(t, err)

	payload := decodeResult(t, result)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "executive-summary.md", payload["name"])
	assert.Equal(t, float64(len("summary")), payload["size_bytes"])
}

func TestReportToolMissingContent(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleReport(context.Background(), buildRequest("report", map[string]any{
		"session_id": "sess-1",
	}))
	require.NoError(t, err)

	payload := decodeResult(t, result)
	assert.Equal(t, false, payload["success"])
	assert.Equal(t, schema.ErrCodeValidation, payload["error_code"])
}

// --- Current time tool ---

func TestCurrentTimeTool(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.server.handleCurrentTime(context.Background(), buildRequest("current_time", nil))
	require.NoError(t, err)

	payload := decodeResult(t, result)
	assert.Equal(t, true, payload["success"])
	assert.Equal(t, "UTC", payload["timezone"])

	ts, ok := payload["current_time"].(string)
	require.True(t, ok)
	parsed, err := time.Parse(store.TimestampLayout, ts)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)
}

// --- Fake client session ---

type fakeClientSession struct {
	id string
}

func (f fakeClientSession) SessionID() string { return f.id }
func (f fakeClientSession) Initialize()       {}
func (f fakeClientSession) Initialized() bool { return true }
func (f fakeClientSession) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return nil
}
