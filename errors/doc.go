// Package errors provides the engine's error taxonomy.
//
// All engine failures are a single *Error carrying a Kind plus the structured
// fields that name the offending process, port or configuration key. Callers
// switch on the kind rather than on Go types:
//
//	if errors.IsKind(err, errors.KindTypeMismatch) {
//	    // fix the connection and retry
//	}
package errors
