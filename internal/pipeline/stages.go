package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/artifacts"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/journal"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/logging"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/model"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/rules"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/store"
	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// Well-known data keys and artifact names flowing between stages.
const (
	DataKeyAnalysisResults = "ANALYSIS_RESULTS"
	ReportArtifactName     = "cost-report.md"
)

// Phase names the pipeline journals for its own stages.
const (
	PhaseAnalysis = "COST_ANALYSIS"
	PhaseReport   = "REPORT_GENERATION"
)

// Stage is one step of the background pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, sessionID string) error
}

// ResourceMetrics is the utilization snapshot for one cloud resource.
type ResourceMetrics struct {
	ResourceID string         `json:"resource_id"`
	Metrics    map[string]any `json:"metrics"`
}

// MetricsSource supplies the utilization metrics the analysis stage works on.
type MetricsSource interface {
	Collect(ctx context.Context, sessionID string) ([]ResourceMetrics, error)
}

// Recommendation is one resource's rule decisions.
type Recommendation struct {
	ResourceID string           `json:"resource_id"`
	Decisions  []rules.Decision `json:"decisions"`
}

// AnalysisResult is what the analysis stage hands to the report stage.
type AnalysisResult struct {
	Recommendations []Recommendation `json:"recommendations"`
	Narrative       string           `json:"narrative"`
}

// AnalysisStage collects utilization metrics, applies the deterministic
// right-sizing rules, asks the model for a narrative assessment and stores
// the combined result for the report stage.
type AnalysisStage struct {
	Source  MetricsSource
	Rules   *rules.Engine
	Client  model.Client
	Store   store.Store
	Tracker *journal.TaskTracker
	Logger  *slog.Logger
}

func (s *AnalysisStage) Name() string { return "analysis" }

func (s *AnalysisStage) Run(ctx context.Context, sessionID string) error {
	if _, err := s.Tracker.StartTask(ctx, sessionID, PhaseAnalysis); err != nil {
		return err
	}

	if _, err := s.analyze(ctx, sessionID); err != nil {
		if _, cerr := s.Tracker.CompleteTask(ctx, sessionID, PhaseAnalysis, string(schema.TaskFailed), err.Error()); cerr != nil {
			logging.LogWith(ctx, s.Logger).WarnContext(ctx, "failed to journal analysis failure", slog.Any("error", cerr))
		}
		return err
	}

	_, err := s.Tracker.CompleteTask(ctx, sessionID, PhaseAnalysis, string(schema.TaskCompleted), "")
	return err
}

func (s *AnalysisStage) analyze(ctx context.Context, sessionID string) (*AnalysisResult, error) {
	resources, err := s.Source.Collect(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	result := &AnalysisResult{}
	for _, res := range resources {
		decisions, err := s.Rules.Evaluate(ctx, res.Metrics)
		if err != nil {
			return nil, err
		}
		if len(decisions) > 0 {
			result.Recommendations = append(result.Recommendations, Recommendation{
				ResourceID: res.ResourceID,
				Decisions:  decisions,
			})
		}
	}

	findings, err := json.Marshal(result.Recommendations)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeRuntime, "marshal recommendations: %v", err).WithCause(err)
	}

	prompt := fmt.Sprintf("Rule findings for %d resources (%d with recommendations):\n%s",
		len(resources), len(result.Recommendations), findings)
	if userPrompt, err := s.userPrompt(ctx, sessionID); err != nil {
		return nil, err
	} else if userPrompt != "" {
		prompt = "User request: " + userPrompt + "\n\n" + prompt
	}

	resp, err := s.Client.Complete(ctx, &model.Request{
		System: "You are a cloud cost optimization assistant. Assess the rule findings and explain the savings opportunities concisely.",
		Prompt: prompt,
	})
	if err != nil {
		return nil, err
	}
	result.Narrative = resp.Text

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeRuntime, "marshal analysis result: %v", err).WithCause(err)
	}
	if err := s.Store.WriteData(ctx, &store.DataItem{
		SessionID: sessionID,
		DataKey:   DataKeyAnalysisResults,
		Content:   string(payload),
	}); err != nil {
		return nil, err
	}

	logging.LogWith(ctx, s.Logger).InfoContext(ctx, "analysis stage finished",
		slog.Int("resources", len(resources)),
		slog.Int("recommendations", len(result.Recommendations)))
	return result, nil
}

// userPrompt reads the persisted invocation prompt. A session without one
// analyzes fine; the model just gets no user framing.
func (s *AnalysisStage) userPrompt(ctx context.Context, sessionID string) (string, error) {
	item, err := s.Store.ReadData(ctx, sessionID, DataKeyUserPrompt)
	if err != nil {
		var serr *schema.Error
		if errors.As(err, &serr) && serr.Code == schema.ErrCodeNotFound {
			return "", nil
		}
		return "", err
	}
	return item.Content, nil
}

// ReportStage turns the stored analysis result into the final report
// artifact. A missing analysis result fails the stage: the report stage
// never runs against partial state.
type ReportStage struct {
	Client    model.Client
	Store     store.Store
	Artifacts artifacts.Storage
	Tracker   *journal.TaskTracker
	Logger    *slog.Logger
}

func (s *ReportStage) Name() string { return "report" }

func (s *ReportStage) Run(ctx context.Context, sessionID string) error {
	if _, err := s.Tracker.StartTask(ctx, sessionID, PhaseReport); err != nil {
		return err
	}

	err := s.generate(ctx, sessionID)
	if err != nil {
		if _, cerr := s.Tracker.CompleteTask(ctx, sessionID, PhaseReport, string(schema.TaskFailed), err.Error()); cerr != nil {
			logging.LogWith(ctx, s.Logger).WarnContext(ctx, "failed to journal report failure", slog.Any("error", cerr))
		}
		return err
	}

	_, err = s.Tracker.CompleteTask(ctx, sessionID, PhaseReport, string(schema.TaskCompleted), "")
	return err
}

func (s *ReportStage) generate(ctx context.Context, sessionID string) error {
	item, err := s.Store.ReadData(ctx, sessionID, DataKeyAnalysisResults)
	if err != nil {
		return err
	}

	resp, err := s.Client.Complete(ctx, &model.Request{
		System: "You are a cloud cost optimization assistant. Write a markdown report from the analysis results: summary, recommendations table, next steps.",
		Prompt: item.Content,
	})
	if err != nil {
		return err
	}

	if err := s.Artifacts.Put(ctx, sessionID, ReportArtifactName, []byte(resp.Text)); err != nil {
		return err
	}

	logging.LogWith(ctx, s.Logger).InfoContext(ctx, "report stage finished",
		slog.String("artifact", ReportArtifactName))
	return nil
}
