package rules

import (
	"context"
	"errors"
	"sync"

	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// Rule is one deterministic right-sizing gate applied to resource
// utilization metrics. When is a boolean expression over the metrics
// environment; Action and Reason feed the recommendation the analysis stage
// hands to the model. Lang selects the expression language: "expr" (default)
// or "cel". CEL rules see the environment as a single `metrics` map, e.g.
// `"cpu_p95" in metrics && metrics.cpu_p95 < 3.0`.
type Rule struct {
	Name   string `json:"name"`
	When   string `json:"when"`
	Lang   string `json:"lang,omitempty"`
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// Decision is a rule that fired for a resource.
type Decision struct {
	Rule   string `json:"rule"`
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// DefaultRules returns the built-in right-sizing gates. The metrics
// environment carries percentile utilization figures (cpu_p95, memory_p95,
// network_in_bytes, ...) plus instance attributes.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "idle-instance",
			When:   "cpu_p95 < 3 && network_in_bytes < 1000000",
			Action: "terminate",
			Reason: "instance is idle: p95 CPU under 3% with negligible network traffic",
		},
		{
			Name:   "oversized-instance",
			When:   "cpu_p95 < 20 && (memory_p95 ?? 0) < 40",
			Action: "downsize",
			Reason: "sustained low utilization: p95 CPU under 20% and memory under 40%",
		},
		{
			Name:   "undersized-instance",
			When:   "cpu_p95 > 85",
			Action: "upsize",
			Reason: "p95 CPU above 85%: workload is compute constrained",
		},
		{
			Name:   "previous-generation",
			When:   `instance_family in ["t2", "m4", "c4", "r4"]`,
			Action: "modernize",
			Reason: "previous-generation instance family: current generation offers better price/performance",
		},
		{
			Name:   "unattached-volume",
			When:   `(resource_type ?? "") == "ebs" && !(attached ?? true)`,
			Action: "delete",
			Reason: "EBS volume is not attached to any instance",
		},
	}
}

// evaluator is one expression language backend.
type evaluator interface {
	Evaluate(ctx context.Context, expression string, metrics map[string]any) (any, error)
}

// Engine evaluates decision rules against metric environments.
// Thread-safe: compiled programs are cached and reused across goroutines.
type Engine struct {
	rules []Rule
	expr  *exprEvaluator

	celOnce sync.Once
	cel     *celEvaluator
	celErr  error
}

// NewEngine creates an Engine with the given rules. Pass DefaultRules() for
// the built-in set.
func NewEngine(rules []Rule) *Engine {
	return &Engine{
		rules: rules,
		expr:  newExprEvaluator(),
	}
}

// Evaluate runs every rule against the metrics environment and returns the
// decisions that fired, in rule order. A rule whose expression does not
// yield a boolean is a validation error.
func (e *Engine) Evaluate(ctx context.Context, metrics map[string]any) ([]Decision, error) {
	if metrics == nil {
		metrics = map[string]any{}
	}

	var decisions []Decision
	for _, rule := range e.rules {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		ev, err := e.evaluatorFor(rule.Lang)
		if err != nil {
			return nil, err
		}
		out, err := ev.Evaluate(ctx, rule.When, metrics)
		if err != nil {
			var serr *schema.Error
			if errors.As(err, &serr) {
				return nil, err
			}
			return nil, schema.NewErrorf(schema.ErrCodeRuntime,
				"rule %q evaluation failed: %s", rule.Name, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"rule": rule.Name, "expression": rule.When})
		}
		fired, ok := out.(bool)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"rule %q expression must evaluate to a boolean, got %T", rule.Name, out).
				WithDetails(map[string]any{"rule": rule.Name, "expression": rule.When})
		}
		if fired {
			decisions = append(decisions, Decision{
				Rule:   rule.Name,
				Action: rule.Action,
				Reason: rule.Reason,
			})
		}
	}
	return decisions, nil
}

func (e *Engine) evaluatorFor(lang string) (evaluator, error) {
	switch lang {
	case "", "expr":
		return e.expr, nil
	case "cel":
		e.celOnce.Do(func() {
			e.cel, e.celErr = newCELEvaluator()
		})
		if e.celErr != nil {
			return nil, e.celErr
		}
		return e.cel, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown rule language %q: must be expr or cel", lang)
	}
}
