package rules

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// exprEvaluator evaluates expr-lang expressions directly against the
// metrics environment, so rules reference metric names bare: cpu_p95 < 3.
// Undefined variables are allowed; the ?? operator supplies defaults.
type exprEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newExprEvaluator() *exprEvaluator {
	return &exprEvaluator{cache: make(map[string]*vm.Program)}
}

func (e *exprEvaluator) Evaluate(ctx context.Context, expression string, metrics map[string]any) (any, error) {
	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}
	return vm.Run(prg, metrics)
}

func (e *exprEvaluator) getOrCompile(expression string) (*vm.Program, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty rule expression")
	}

	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"rule compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}
