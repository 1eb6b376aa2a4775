package logger

import (
	"time"
)

// Standard field key constants for structured logging.
const (
	FieldComponent = "component"
	FieldPipeline  = "pipeline"
	FieldProcess   = "process"
	FieldType      = "type"
	FieldPort      = "port"
	FieldEdge      = "edge"
	FieldScheduler = "scheduler"
	FieldRunID     = "run_id"
	FieldState     = "state"
	FieldError     = "error"
	FieldDuration  = "duration_ms"
)

// Fields builds a map[string]interface{} from alternating key-value pairs.
//
//	logger.Info("connected", logger.Fields("from", "src.out", "to", "snk.in"))
func Fields(kvs ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i < len(kvs)-1; i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// ErrorFields creates fields for a process that failed.
func ErrorFields(process string, err error) map[string]interface{} {
	return map[string]interface{}{
		FieldProcess: process,
		FieldError:   err.Error(),
	}
}

// DurationFields creates fields for a timed process operation.
func DurationFields(process string, d time.Duration) map[string]interface{} {
	return map[string]interface{}{
		FieldProcess:  process,
		FieldDuration: d.Milliseconds(),
	}
}
