// Package schema defines the shared vocabulary of the cost-optimization
// assistant: the journal status taxonomy, structured error codes, and the
// validation rules that guard what may be written to the journal store.
package schema

import "strings"

// Predefined event statuses covering the macro lifecycle of a session.
//
// Event flow:
//  1. SESSION_INITIATED - the workflow coordinator opens a session
//  2. AGENT_INVOCATION_STARTED - the invoker calls the agent runtime
//  3. AGENT_INVOCATION_SUCCEEDED/FAILED - the runtime acknowledged / rejected
//  4. AGENT_RUNTIME_INVOKE_STARTED - the entrypoint begins processing
//  5. AGENT_RUNTIME_INVOKE_FAILED - the entrypoint failed before dispatch
//  6. AGENT_BACKGROUND_TASK_STARTED - fire-and-forget pipeline launched
//  7. AGENT_BACKGROUND_TASK_COMPLETED/FAILED - pipeline finished
//
// The AGENT_RUNTIME_SESSION_* statuses are written by the out-of-band
// stuck-session cleanup, never by the pipeline itself.
const (
	StatusSessionInitiated = "SESSION_INITIATED"

	StatusAgentInvocationStarted   = "AGENT_INVOCATION_STARTED"
	StatusAgentInvocationSucceeded = "AGENT_INVOCATION_SUCCEEDED"
	StatusAgentInvocationFailed    = "AGENT_INVOCATION_FAILED"

	StatusAgentRuntimeInvokeStarted = "AGENT_RUNTIME_INVOKE_STARTED"
	StatusAgentRuntimeInvokeFailed  = "AGENT_RUNTIME_INVOKE_FAILED"

	StatusBackgroundTaskStarted   = "AGENT_BACKGROUND_TASK_STARTED"
	StatusBackgroundTaskCompleted = "AGENT_BACKGROUND_TASK_COMPLETED"
	StatusBackgroundTaskFailed    = "AGENT_BACKGROUND_TASK_FAILED"

	StatusSessionForceStopped    = "AGENT_RUNTIME_SESSION_FORCE_STOPPED"
	StatusSessionForceStopFailed = "AGENT_RUNTIME_SESSION_FORCE_STOP_FAILED"
	StatusSessionStopNotRequired = "AGENT_RUNTIME_SESSION_STOP_NOT_REQUIRED"
)

// PredefinedStatuses returns the closed set of fixed lifecycle statuses.
// Dynamic TASK_* statuses are validated separately against the task grammar.
func PredefinedStatuses() map[string]struct{} {
	return map[string]struct{}{
		StatusSessionInitiated:          {},
		StatusAgentInvocationStarted:    {},
		StatusAgentInvocationSucceeded:  {},
		StatusAgentInvocationFailed:     {},
		StatusAgentRuntimeInvokeStarted: {},
		StatusAgentRuntimeInvokeFailed:  {},
		StatusBackgroundTaskStarted:     {},
		StatusBackgroundTaskCompleted:   {},
		StatusBackgroundTaskFailed:      {},
		StatusSessionForceStopped:       {},
		StatusSessionForceStopFailed:    {},
		StatusSessionStopNotRequired:    {},
	}
}

// TaskSuffix is the terminal (or initial) state of a dynamically named phase.
type TaskSuffix string

const (
	TaskStarted   TaskSuffix = "STARTED"
	TaskCompleted TaskSuffix = "COMPLETED"
	TaskFailed    TaskSuffix = "FAILED"
	TaskCancelled TaskSuffix = "CANCELLED"
	TaskSkipped   TaskSuffix = "SKIPPED"
)

// TaskInProgress is the task state reported back to agents while a phase is
// open. It never appears in the event stream, which carries the
// TASK_<PHASE>_STARTED status instead.
const TaskInProgress = "IN_PROGRESS"

// TaskSuffixes lists every suffix the dynamic status grammar accepts.
// The same five-suffix grammar is applied uniformly by the validator, the
// event recorder and the journal tool.
func TaskSuffixes() []TaskSuffix {
	return []TaskSuffix{TaskStarted, TaskCompleted, TaskFailed, TaskCancelled, TaskSkipped}
}

// ValidTaskSuffix reports whether s is one of the five task suffixes.
func ValidTaskSuffix(s string) bool {
	switch TaskSuffix(s) {
	case TaskStarted, TaskCompleted, TaskFailed, TaskCancelled, TaskSkipped:
		return true
	}
	return false
}

// TaskStatus builds a dynamic status TASK_<PHASE>_<SUFFIX> from an already
// sanitized phase name. Callers sanitize first via SanitizePhaseName.
func TaskStatus(phase string, suffix TaskSuffix) string {
	return "TASK_" + phase + "_" + string(suffix)
}

// SanitizePhaseName normalizes a human-readable phase name into the safe
// grammar: uppercase, spaces become underscores, characters outside
// [A-Za-z0-9_-] are dropped, and runs of underscores collapse. The result is
// truncated to MaxPhaseNameLength. An empty result means the input had no
// usable characters.
func SanitizePhaseName(name string) string {
	upper := strings.ToUpper(strings.TrimSpace(name))

	var b strings.Builder
	lastUnderscore := false
	for _, r := range upper {
		switch {
		case r == ' ' || r == '_':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			// dropped; injection defense happens again at the validator
		}
	}

	out := strings.Trim(b.String(), "_")
	if len(out) > MaxPhaseNameLength {
		out = out[:MaxPhaseNameLength]
		out = strings.Trim(out, "_")
	}
	return out
}

// TaskCompletionStatus maps a journal-tool completion status string to its
// task suffix. Unknown values default to COMPLETED.
func TaskCompletionStatus(status string) TaskSuffix {
	switch status {
	case string(TaskFailed):
		return TaskFailed
	case string(TaskCancelled):
		return TaskCancelled
	case string(TaskSkipped):
		return TaskSkipped
	default:
		return TaskCompleted
	}
}
