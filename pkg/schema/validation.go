package schema

import "regexp"

// MaxPhaseNameLength bounds the phase component of dynamic task statuses.
const MaxPhaseNameLength = 50

var (
	phaseNamePattern     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	dynamicStatusPattern = regexp.MustCompile(`^TASK_([A-Za-z0-9_-]+)_(STARTED|COMPLETED|FAILED|CANCELLED|SKIPPED)$`)
)

// ValidateEventStatus checks a candidate status against the predefined set
// and, failing that, against the dynamic task grammar
// TASK_<PHASE>_<STARTED|COMPLETED|FAILED|CANCELLED|SKIPPED>.
//
// This is a security control: it is the last gate before attacker-influenced
// strings reach the durable store, so every rejection is a structured
// VALIDATION_ERROR naming the offending status and the reason.
func ValidateEventStatus(status string, predefined map[string]struct{}) error {
	// Fast path: predefined statuses.
	if _, ok := predefined[status]; ok {
		return nil
	}

	m := dynamicStatusPattern.FindStringSubmatch(status)
	if m == nil {
		return NewErrorf(ErrCodeValidation,
			"invalid status %q: must be a predefined status or match TASK_{phase}_{STARTED|COMPLETED|FAILED|CANCELLED|SKIPPED}", status).
			WithDetails(map[string]any{"status": status})
	}

	phase := m[1]
	if len(phase) > MaxPhaseNameLength {
		return NewErrorf(ErrCodeValidation,
			"invalid status %q: phase name %q exceeds maximum length of %d characters", status, phase, MaxPhaseNameLength).
			WithDetails(map[string]any{"status": status, "phase_name": phase})
	}

	// Redundant with the pattern above but explicit: the charset is the
	// invariant, the regex is the mechanism.
	if !phaseNamePattern.MatchString(phase) {
		return NewErrorf(ErrCodeValidation,
			"invalid status %q: phase name %q contains invalid characters, only A-Z, a-z, 0-9, underscore and dash are allowed", status, phase).
			WithDetails(map[string]any{"status": status, "phase_name": phase})
	}

	return nil
}

// ValidPhaseName reports whether a sanitized phase name satisfies the safe
// grammar on its own (non-empty, bounded, safe charset).
func ValidPhaseName(phase string) bool {
	return phase != "" && len(phase) <= MaxPhaseNameLength && phaseNamePattern.MatchString(phase)
}
