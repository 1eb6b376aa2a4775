// Package validation provides struct-tag validation (go-playground/validator)
// and a small collecting validator for declarative pipeline descriptions.
// Failures are reported as errors.KindInvalidConfiguration with per-field
// details.
package validation
