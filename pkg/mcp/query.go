package mcp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// jqRunner applies jq expressions to stored JSON content so agents can pull
// out just the fields they need instead of reparsing whole documents.
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type jqRunner struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

func newJQRunner() *jqRunner {
	return &jqRunner{cache: make(map[string]*gojq.Code)}
}

// Apply runs the jq expression against the JSON content. jq expressions can
// produce multiple outputs: one output is returned directly, several are
// collected into a slice.
func (r *jqRunner) Apply(ctx context.Context, expression, content string) (any, error) {
	code, err := r.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"stored content is not JSON: %v", err).WithCause(err)
	}

	iter := code.RunWithContext(ctx, doc)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeRuntime,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

func (r *jqRunner) getOrCompile(expression string) (*gojq.Code, error) {
	r.mu.RLock()
	if code, ok := r.cache[expression]; ok {
		r.mu.RUnlock()
		return code, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := r.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	r.cache[expression] = code
	return code, nil
}
