package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kbukum/flowkit/errors"
)

// Validator collects validation errors.
type Validator struct {
	errors []FieldError
}

// FieldError represents a validation error for a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// New creates a new Validator.
func New() *Validator {
	return &Validator{
		errors: make([]FieldError, 0),
	}
}

// AddError adds a field error.
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, FieldError{
		Field:   field,
		Message: message,
	})
}

// HasErrors returns true if there are validation errors.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors.
func (v *Validator) Errors() []FieldError {
	return v.errors
}

// Validate returns an invalid-configuration error if there are validation
// errors, nil otherwise.
func (v *Validator) Validate() error {
	if !v.HasErrors() {
		return nil
	}

	messages := make([]string, len(v.errors))
	for i, e := range v.errors {
		messages[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}

	return &errors.Error{
		Kind:    errors.KindInvalidConfiguration,
		Message: strings.Join(messages, "; "),
		Details: map[string]any{"fields": v.errors},
	}
}

// Required checks if a string is non-empty.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
	}
	return v
}

// Pattern checks a non-empty string against a regular expression.
func (v *Validator) Pattern(field, value string, re *regexp.Regexp, description string) *Validator {
	if value != "" && !re.MatchString(value) {
		v.AddError(field, "must be "+description)
	}
	return v
}

// OneOf checks if a non-empty string is one of the allowed values.
func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	if value == "" {
		return v
	}
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.AddError(field, "must be one of: "+strings.Join(allowed, ", "))
	return v
}

// Min checks that an integer is at least min.
func (v *Validator) Min(field string, value, min int) *Validator {
	if value < min {
		v.AddError(field, fmt.Sprintf("must be at least %d", min))
	}
	return v
}

// Unique records an error for every value seen more than once.
func (v *Validator) Unique(field string, values []string) *Validator {
	seen := make(map[string]bool, len(values))
	for _, val := range values {
		if seen[val] {
			v.AddError(field, fmt.Sprintf("duplicate value %q", val))
		}
		seen[val] = true
	}
	return v
}

// Custom adds an error if the condition is false.
func (v *Validator) Custom(field string, valid bool, message string) *Validator {
	if !valid {
		v.AddError(field, message)
	}
	return v
}
