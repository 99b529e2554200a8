package model

import (
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
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

// Add appends a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// NewValidationError returns a *ValidationError with a single field error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Errors: []FieldError{{Field: field, Message: message}}}
}

// ValidateSession checks a Session for constraint violations.
// It returns a *ValidationError if any rules fail, or nil if the session is valid.
func ValidateSession(s *Session) error {
	var ve ValidationError

	if strings.TrimSpace(s.SubmissionID) == "" {
		ve.Add("submission_id", "is required")
	}
	if strings.TrimSpace(s.LicensedAgentID) == "" {
		ve.Add("licensed_agent_id", "a licensed agent must be selected")
	}
	if !s.Status.IsValid() {
		ve.Add("status", fmt.Sprintf("invalid value %q", s.Status))
	}
	if s.TotalFields < 0 {
		ve.Add("total_fields", fmt.Sprintf("must not be negative, got %d", s.TotalFields))
	}

	// TransferredAt consistency with Status.
	if s.Status == StatusInProgress && s.TransferredAt != nil {
		ve.Add("transferred_at", "must be nil while in progress")
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateItems checks an item batch against its session: one item per
// canonical field name, all owned by the session, count matching total_fields.
func ValidateItems(s *Session, items []*Item) error {
	var ve ValidationError

	if len(items) != s.TotalFields {
		ve.Add("total_fields", fmt.Sprintf("session declares %d fields but %d items were built", s.TotalFields, len(items)))
	}

	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if it.SessionID != s.ID {
			ve.Add(it.FieldName, "belongs to a different session")
		}
		if seen[it.FieldName] {
			ve.Add(it.FieldName, "duplicate field")
		}
		seen[it.FieldName] = true
		if !it.FieldCategory.IsValid() {
			ve.Add(it.FieldName, fmt.Sprintf("invalid category %q", it.FieldCategory))
		}
		if it.IsModified != (it.VerifiedValue != it.OriginalValue) {
			ve.Add(it.FieldName, "is_modified does not match value")
		}
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
