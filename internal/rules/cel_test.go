package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

func TestCELRuleFires(t *testing.T) {
	e := NewEngine([]Rule{
		{
			Name:   "cel-idle",
			Lang:   "cel",
			When:   `"cpu_p95" in metrics && metrics.cpu_p95 < 3.0`,
			Action: "terminate",
			Reason: "idle",
		},
	})

	decisions, err := e.Evaluate(context.Background(), map[string]any{"cpu_p95": 1.5})
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "terminate", decisions[0].Action)
}

func TestCELRuleMissingMetricDoesNotFire(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "cel-idle", Lang: "cel", When: `"cpu_p95" in metrics && metrics.cpu_p95 < 3.0`, Action: "terminate"},
	})

	decisions, err := e.Evaluate(context.Background(), map[string]any{"memory_p95": 90.0})
	require.NoError(t, err)
	assert.Empty(t, decisions)
}

func TestCELCompileErrorRejected(t *testing.T) {
	e := NewEngine([]Rule{{Name: "broken", Lang: "cel", When: "metrics.(", Action: "noop"}})

	_, err := e.Evaluate(context.Background(), map[string]any{})
	require.Error(t, err)
	var serr *schema.Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, schema.ErrCodeValidation, serr.Code)
}

func TestMixedLanguageRules(t *testing.T) {
	e := NewEngine([]Rule{
		{Name: "expr-rule", When: "cpu_p95 > 85", Action: "upsize", Reason: "hot"},
		{Name: "cel-rule", Lang: "cel", When: `"cpu_p95" in metrics && metrics.cpu_p95 > 90.0`, Action: "upsize-urgent", Reason: "very hot"},
	})

	decisions, err := e.Evaluate(context.Background(), map[string]any{"cpu_p95": 95.0})
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, "upsize", decisions[0].Action)
	assert.Equal(t, "upsize-urgent", decisions[1].Action)
}

func TestUnknownRuleLanguageRejected(t *testing.T) {
	e := NewEngine([]Rule{{Name: "bad-lang", Lang: "jsonata", When: "true", Action: "noop"}})

	_, err := e.Evaluate(context.Background(), map[string]any{})
	require.Error(t, err)
	var serr *schema.Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, schema.ErrCodeValidation, serr.Code)
}
