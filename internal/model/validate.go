package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrInvalidAgentID is returned for a missing or malformed agent identity.
var ErrInvalidAgentID = errors.New("invalid agent identity")

// maxAgentIDLen bounds identities so they stay usable as bus subject tokens.
const maxAgentIDLen = 128

// ValidateAgentID checks that id is a non-empty identity made of
// [A-Za-z0-9_-]. Dots and wildcards are excluded because the identity is
// embedded in bus subjects.
func ValidateAgentID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: missing", ErrInvalidAgentID)
	}
	if len(id) > maxAgentIDLen {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidAgentID, maxAgentIDLen)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: unexpected character %q", ErrInvalidAgentID, r)
		}
	}
	return nil
}

// ValidateAgent checks an Agent for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if the agent is valid.
func ValidateAgent(a *Agent) error {
	var ve ValidationError

	if err := ValidateAgentID(a.ID); err != nil {
		ve.Errors = append(ve.Errors, FieldError{Field: "id", Message: err.Error()})
	}

	if !a.Status.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "status",
			Message: fmt.Sprintf("invalid value %q", a.Status),
		})
	}

	if a.Generation < 0 {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "generation",
			Message: fmt.Sprintf("must not be negative, got %d", a.Generation),
		})
	}

	if a.ParentID != "" && ValidateAgentID(a.ParentID) != nil {
		ve.Errors = append(ve.Errors, FieldError{Field: "parent_id", Message: "invalid identity"})
	}

	// Metadata: must be valid JSON if present.
	if len(a.Metadata) > 0 && !json.Valid(a.Metadata) {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "metadata",
			Message: "contains invalid JSON",
		})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateTactic checks a Tactic before it is stored.
func ValidateTactic(t *Tactic) error {
	var ve ValidationError

	if strings.TrimSpace(t.Pattern) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "pattern", Message: "is required"})
	} else if t.Pattern != CanonicalPattern(strings.Split(t.Pattern, PatternSeparator)) {
		ve.Errors = append(ve.Errors, FieldError{Field: "pattern", Message: "must be sorted, unique reason codes joined by " + PatternSeparator})
	}
	if !t.ResponseAction.IsAllowed() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "response_action",
			Message: fmt.Sprintf("%q is not in the allow-list", t.ResponseAction),
		})
	}
	if t.Score < 0 || t.Score > 1 {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "score",
			Message: fmt.Sprintf("must be between 0 and 1, got %g", t.Score),
		})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
