package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/artifacts"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/journal"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/model"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/rules"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/store"
	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

type fakeModel struct {
	text     string
	err      error
	requests []*model.Request
}

func (f *fakeModel) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &model.Response{Text: f.text}, nil
}

type fakeMetrics struct {
	resources []ResourceMetrics
	err       error
}

func (f *fakeMetrics) Collect(ctx context.Context, sessionID string) ([]ResourceMetrics, error) {
	return f.resources, f.err
}

func TestAnalysisStage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tracker := journal.NewTaskTracker(s, testLogger())

	stage := &AnalysisStage{
		Source: &fakeMetrics{resources: []ResourceMetrics{
			{ResourceID: "i-idle", Metrics: map[string]any{"cpu_p95": 1.0, "network_in_bytes": 100, "memory_p95": 5.0}},
			{ResourceID: "i-busy", Metrics: map[string]any{"cpu_p95": 60.0, "network_in_bytes": 5_000_000, "memory_p95": 70.0}},
		}},
		Rules:   rules.NewEngine(rules.DefaultRules()),
		Client:  &fakeModel{text: "two idle findings"},
		Store:   s,
		Tracker: tracker,
		Logger:  testLogger(),
	}
	require.NoError(t, stage.Run(ctx, "sess-1"))

	// The analysis result is stored for the report stage.
	item, err := s.ReadData(ctx, "sess-1", DataKeyAnalysisResults)
	require.NoError(t, err)
	var result AnalysisResult
	require.NoError(t, json.Unmarshal([]byte(item.Content), &result))
	require.Len(t, result.Recommendations, 1)
	assert.Equal(t, "i-idle", result.Recommendations[0].ResourceID)
	assert.Equal(t, "two idle findings", result.Narrative)

	// The phase task is journaled start-to-complete.
	task, err := s.FindTaskByPhase(ctx, "sess-1", PhaseAnalysis)
	require.NoError(t, err)
	assert.Equal(t, "TASK_COST_ANALYSIS_COMPLETED", task.Status)
}

func TestAnalysisStagePrependsUserPrompt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tracker := journal.NewTaskTracker(s, testLogger())

	require.NoError(t, s.WriteData(ctx, &store.DataItem{
		SessionID: "sess-1",
		DataKey:   DataKeyUserPrompt,
		Content:   "focus on idle compute",
	}))

	mdl := &fakeModel{text: "findings"}
	stage := &AnalysisStage{
		Source:  &fakeMetrics{resources: []ResourceMetrics{{ResourceID: "i-1", Metrics: map[string]any{"cpu_p95": 1.0, "network_in_bytes": 0}}}},
		Rules:   rules.NewEngine(rules.DefaultRules()),
		Client:  mdl,
		Store:   s,
		Tracker: tracker,
		Logger:  testLogger(),
	}
	require.NoError(t, stage.Run(ctx, "sess-1"))

	require.Len(t, mdl.requests, 1)
	assert.True(t, strings.HasPrefix(mdl.requests[0].Prompt, "User request: focus on idle compute\n\n"))
}

func TestAnalysisStageFailureJournalsTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tracker := journal.NewTaskTracker(s, testLogger())

	modelErr := errors.New("model unavailable")
	stage := &AnalysisStage{
		Source:  &fakeMetrics{resources: []ResourceMetrics{{ResourceID: "i-1", Metrics: map[string]any{"cpu_p95": 1.0, "network_in_bytes": 0}}}},
		Rules:   rules.NewEngine(rules.DefaultRules()),
		Client:  &fakeModel{err: modelErr},
		Store:   s,
		Tracker: tracker,
		Logger:  testLogger(),
	}
	err := stage.Run(ctx, "sess-1")
	require.ErrorIs(t, err, modelErr)

	task, ferr := s.FindTaskByPhase(ctx, "sess-1", PhaseAnalysis)
	require.NoError(t, ferr)
	assert.Equal(t, "TASK_COST_ANALYSIS_FAILED", task.Status)
	assert.Contains(t, task.ErrorMessage, "model unavailable")
}

func TestReportStage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tracker := journal.NewTaskTracker(s, testLogger())
	storage, err := artifacts.NewFSStorage(t.TempDir())
	require.NoError(t, err)

	// Seeded by a prior analysis stage.
	analysis, _ := json.Marshal(AnalysisResult{Narrative: "savings found"})
	require.NoError(t, s.WriteData(ctx, &store.DataItem{
		SessionID: "sess-1",
		DataKey:   DataKeyAnalysisResults,
		Content:   string(analysis),
	}))

	mdl := &fakeModel{text: "# Cost Report\n\nSavings found."}
	stage := &ReportStage{
		Client:    mdl,
		Store:     s,
		Artifacts: storage,
		Tracker:   tracker,
		Logger:    testLogger(),
	}
	require.NoError(t, stage.Run(ctx, "sess-1"))

	content, err := storage.Get(ctx, "sess-1", ReportArtifactName)
	require.NoError(t, err)
	assert.Contains(t, string(content), "# Cost Report")

	// The model saw the stored analysis, not a fresh one.
	require.Len(t, mdl.requests, 1)
	assert.Contains(t, mdl.requests[0].Prompt, "savings found")

	task, err := s.FindTaskByPhase(ctx, "sess-1", PhaseReport)
	require.NoError(t, err)
	assert.Equal(t, "TASK_REPORT_GENERATION_COMPLETED", task.Status)
}

func TestReportStageMissingAnalysis(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tracker := journal.NewTaskTracker(s, testLogger())
	storage, err := artifacts.NewFSStorage(t.TempDir())
	require.NoError(t, err)

	stage := &ReportStage{
		Client:    &fakeModel{text: "never called"},
		Store:     s,
		Artifacts: storage,
		Tracker:   tracker,
		Logger:    testLogger(),
	}
	err = stage.Run(ctx, "sess-1")
	require.Error(t, err)
	var serr *schema.Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, schema.ErrCodeNotFound, serr.Code)

	task, ferr := s.FindTaskByPhase(ctx, "sess-1", PhaseReport)
	require.NoError(t, ferr)
	assert.Equal(t, "TASK_REPORT_GENERATION_FAILED", task.Status)
}
