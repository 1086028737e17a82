package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/journal"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/logging"
	"github.com/aws-samples/sample-agentic-cost-optimizer/internal/store"
	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

const defaultReportName = "cost-report.md"

// handleJournal multiplexes start_task/complete_task. Every path, success or
// domain failure, returns a structured {success, ..., timestamp} payload;
// MCP protocol errors are reserved for transport problems.
func (s *Server) handleJournal(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action := req.GetString("action", "")
	if action != "start_task" && action != "complete_task" {
		return failureResult(schema.NewErrorf(schema.ErrCodeValidation,
			"action must be start_task or complete_task, got %q", action))
	}

	phaseName := req.GetString("phase_name", "")
	if phaseName == "" {
		return failureResult(schema.NewError(schema.ErrCodeValidation, "phase_name is required"))
	}

	sessionID, serr := s.resolveSession(ctx, req)
	if serr != nil {
		return failureResult(serr)
	}
	ctx = logging.WithSessionID(ctx, sessionID)

	switch action {
	case "start_task":
		start, err := s.tracker.StartTask(ctx, sessionID, phaseName)
		if err != nil {
			return failureResult(err)
		}
		if err := s.recorder.RecordEvent(ctx, sessionID, start.Status); err != nil {
			return failureResult(err)
		}
		// The journaled event carries TASK_<PHASE>_STARTED; the agent sees
		// the task state, not the event status.
		return successResult(map[string]any{
			"phase_name": start.PhaseName,
			"status":     schema.TaskInProgress,
			"record_key": start.RecordKey,
		})

	default: // complete_task
		status := req.GetString("status", "")
		errorMessage := req.GetString("error_message", "")
		result, err := s.tracker.CompleteTask(ctx, sessionID, phaseName, status, errorMessage)
		if err != nil {
			return failureResult(err)
		}
		var opts []journal.EventOption
		if errorMessage != "" {
			opts = append(opts, journal.WithErrorMessage(errorMessage))
		}
		if err := s.recorder.RecordEvent(ctx, sessionID, result.Status, opts...); err != nil {
			return failureResult(err)
		}
		return successResult(map[string]any{
			"phase_name":       result.PhaseName,
			"status":           result.Status,
			"duration_seconds": result.DurationSeconds,
		})
	}
}

// handleDataStore reads and writes per-session shared data.
func (s *Server) handleDataStore(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action := req.GetString("action", "")
	if action != "read" && action != "write" {
		return failureResult(schema.NewErrorf(schema.ErrCodeValidation,
			"action must be read or write, got %q", action))
	}

	key := req.GetString("key", "")
	if key == "" {
		return failureResult(schema.NewError(schema.ErrCodeValidation, "key is required"))
	}

	sessionID, serr := s.resolveSession(ctx, req)
	if serr != nil {
		return failureResult(serr)
	}
	ctx = logging.WithSessionID(ctx, sessionID)

	if action == "write" {
		content := req.GetString("content", "")
		if content == "" {
			return failureResult(schema.NewError(schema.ErrCodeValidation, "content is required for write"))
		}
		now := time.Now().UTC()
		err := s.store.WriteData(ctx, &store.DataItem{
			SessionID:  sessionID,
			DataKey:    key,
			Content:    content,
			CreatedAt:  now,
			TTLSeconds: now.Add(s.recorder.TTL()).Unix(),
		})
		if err != nil {
			return failureResult(err)
		}
		logging.LogWith(ctx, s.logger).InfoContext(ctx, "data stored", slog.String("key", key))
		return successResult(map[string]any{"key": key})
	}

	item, err := s.store.ReadData(ctx, sessionID, key)
	if err != nil {
		return failureResult(err)
	}
	if query := req.GetString("query", ""); query != "" {
		result, qerr := s.query.Apply(ctx, query, item.Content)
		if qerr != nil {
			return failureResult(qerr)
		}
		return successResult(map[string]any{
			"key":    item.DataKey,
			"result": result,
		})
	}
	return successResult(map[string]any{
		"key":     item.DataKey,
		"content": item.Content,
	})
}

// handleReport stores the final report artifact for the session.
func (s *Server) handleReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := req.GetString("content", "")
	if content == "" {
		return failureResult(schema.NewError(schema.ErrCodeValidation, "content is required"))
	}
	name := req.GetString("name", defaultReportName)

	sessionID, serr := s.resolveSession(ctx, req)
	if serr != nil {
		return failureResult(serr)
	}
	ctx = logging.WithSessionID(ctx, sessionID)

	if err := s.artifacts.Put(ctx, sessionID, name, []byte(content)); err != nil {
		return failureResult(err)
	}
	logging.LogWith(ctx, s.logger).InfoContext(ctx, "report delivered", slog.String("artifact", name))
	return successResult(map[string]any{
		"name":       name,
		"size_bytes": len(content),
	})
}

// handleCurrentTime returns the current UTC time.
func (s *Server) handleCurrentTime(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(map[string]any{
		"current_time": store.FormatTimestamp(time.Now()),
		"timezone":     "UTC",
	})
}

// resolveSession resolves the workflow session for a tool call: the explicit
// session_id parameter wins, otherwise the binding for the calling MCP
// session. No binding and no parameter is a NO_SESSION failure.
func (s *Server) resolveSession(ctx context.Context, req mcp.CallToolRequest) (string, *schema.Error) {
	if explicit := req.GetString("session_id", ""); explicit != "" {
		return explicit, nil
	}
	if session := server.ClientSessionFromContext(ctx); session != nil {
		if sid, ok := s.bindings.SessionFor(session.SessionID()); ok {
			return sid, nil
		}
	}
	return "", schema.NewError(schema.ErrCodeNoSession,
		"no active session: pass session_id or bind one to this connection")
}

// --- Result helpers ---

func successResult(fields map[string]any) (*mcp.CallToolResult, error) {
	payload := map[string]any{
		"success":   true,
		"timestamp": store.FormatTimestamp(time.Now()),
	}
	for k, v := range fields {
		payload[k] = v
	}
	return marshalResult(payload)
}

func failureResult(err error) (*mcp.CallToolResult, error) {
	code := schema.ErrCodeRuntime
	var serr *schema.Error
	if errors.As(err, &serr) {
		code = serr.Code
	}
	return marshalResult(map[string]any{
		"success":    false,
		"error":      err.Error(),
		"error_code": code,
		"timestamp":  store.FormatTimestamp(time.Now()),
	})
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
