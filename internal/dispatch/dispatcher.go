// Package dispatch is the entrypoint layer: it validates incoming invocation
// payloads, journals the session lifecycle and hands work to the background
// pipeline without awaiting it.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/journal"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/logging"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/pipeline"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/store"
	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// DefaultPrompt stands in when an invocation carries no prompt.
const DefaultPrompt = "Identify cost optimization opportunities across the account."

// payloadSchemaJSON validates invocation payloads. Embedded as a constant to
// avoid filesystem dependencies.
const payloadSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://aws-samples.dev/schemas/invoke-payload.json",
  "type": "object",
  "properties": {
    "session_id": {
      "type": "string",
      "minLength": 1,
      "maxLength": 128
    },
    "prompt": {
      "type": "string"
    }
  },
  "additionalProperties": false
}`

// Payload is the parsed invocation request.
type Payload struct {
	SessionID string `json:"session_id,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
}

// InvokeResult is the immediate response of Invoke. Status "started" means
// the pipeline was scheduled; the Error field is set instead when scheduling
// failed.
type InvokeResult struct {
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Dispatcher accepts invocation requests and fires the background pipeline.
type Dispatcher struct {
	recorder      *journal.Recorder
	orchestrator  *pipeline.Orchestrator
	store         store.Store
	payloadSchema *jsonschema.Schema
	logger        *slog.Logger
}

// NewDispatcher creates a Dispatcher. The payload schema is compiled once.
func NewDispatcher(recorder *journal.Recorder, orch *pipeline.Orchestrator, st store.Store, logger *slog.Logger) (*Dispatcher, error) {
	c := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(payloadSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload schema: %w", err)
	}
	if err := c.AddResource("https://aws-samples.dev/schemas/invoke-payload.json", doc); err != nil {
		return nil, fmt.Errorf("add payload schema resource: %w", err)
	}
	compiled, err := c.Compile("https://aws-samples.dev/schemas/invoke-payload.json")
	if err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}
	return &Dispatcher{
		recorder:      recorder,
		orchestrator:  orch,
		store:         st,
		payloadSchema: compiled,
		logger:        logger,
	}, nil
}

// Invoke validates the payload, journals AGENT_RUNTIME_INVOKE_STARTED,
// persists the prompt (DefaultPrompt when absent) for the analysis stage and
// launches the background pipeline, returning immediately. The pipeline's
// outcome is never part of the response.
//
// The session id comes from the execution context when present; a payload
// session id is only honored when the context carries none. A scheduling
// failure (not a pipeline failure) journals AGENT_RUNTIME_INVOKE_FAILED and
// is reported in the result's Error field.
func (d *Dispatcher) Invoke(ctx context.Context, raw map[string]any) (*InvokeResult, error) {
	payload, err := d.parsePayload(raw)
	if err != nil {
		return nil, err
	}

	sessionID := logging.SessionID(ctx)
	if sessionID == "" {
		sessionID = payload.SessionID
	}
	if sessionID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"no session id in execution context or payload")
	}
	ctx = logging.WithSessionID(ctx, sessionID)

	if err := d.recorder.RecordEvent(ctx, sessionID, schema.StatusAgentRuntimeInvokeStarted); err != nil {
		return nil, err
	}

	prompt := payload.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	now := time.Now().UTC()
	err = d.store.WriteData(ctx, &store.DataItem{
		SessionID:  sessionID,
		DataKey:    pipeline.DataKeyUserPrompt,
		Content:    prompt,
		CreatedAt:  now,
		TTLSeconds: now.Add(d.recorder.TTL()).Unix(),
	})
	if err == nil {
		err = d.orchestrator.Launch(ctx, sessionID)
	}
	if err != nil {
		logging.LogWith(ctx, d.logger).ErrorContext(ctx, "failed to start background processing",
			slog.Any("error", err))
		if rerr := d.recorder.RecordEvent(ctx, sessionID, schema.StatusAgentRuntimeInvokeFailed,
			journal.WithErrorMessage(err.Error())); rerr != nil {
			logging.LogWith(ctx, d.logger).ErrorContext(ctx, "failed to journal invoke failure",
				slog.Any("error", rerr))
		}
		return &InvokeResult{
			SessionID: sessionID,
			Error:     fmt.Sprintf("Error starting background processing: %s", err.Error()),
		}, nil
	}

	logging.LogWith(ctx, d.logger).InfoContext(ctx, "background processing started")
	return &InvokeResult{
		Message:   "Cost optimization analysis started",
		SessionID: sessionID,
		Status:    "started",
	}, nil
}

func (d *Dispatcher) parsePayload(raw map[string]any) (*Payload, error) {
	if raw == nil {
		raw = map[string]any{}
	}
	if err := d.payloadSchema.Validate(any(raw)); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid invocation payload: %v", err).WithCause(err)
	}

	p := &Payload{}
	if v, ok := raw["session_id"].(string); ok {
		p.SessionID = v
	}
	if v, ok := raw["prompt"].(string); ok {
		p.Prompt = v
	}
	return p, nil
}
