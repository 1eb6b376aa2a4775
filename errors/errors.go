package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Error is the unified engine error type.
type Error struct {
	// Kind is the machine-readable classification.
	Kind Kind `json:"kind"`
	// Message is a human-readable description.
	Message string `json:"message"`
	// Process names the process involved, if any.
	Process string `json:"process,omitempty"`
	// Port names the port involved, if any.
	Port string `json:"port,omitempty"`
	// Key names the configuration key involved, if any.
	Key string `json:"key,omitempty"`
	// Value is the offending configuration value, if any.
	Value string `json:"value,omitempty"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by kind. Empty Process and Port fields on the
// target act as wildcards, so &Error{Kind: KindNoSuchPort} matches any
// no-such-port error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.Process != "" && t.Process != e.Process {
		return false
	}
	if t.Port != "" && t.Port != e.Port {
		return false
	}
	return true
}

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	return stderrors.Is(err, &Error{Kind: kind})
}

// As finds the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// --- Port and connection constructors ---

// NoSuchPort reports a port the process never declared.
func NoSuchPort(process, port string) *Error {
	return &Error{
		Kind: KindNoSuchPort, Process: process, Port: port,
		Message: fmt.Sprintf("process %q has no port %q", process, port),
	}
}

// TypeMismatch reports two concrete port types that cannot be connected.
func TypeMismatch(upProcess, upPort, upType, downProcess, downPort, downType string) *Error {
	return &Error{
		Kind: KindTypeMismatch, Process: downProcess, Port: downPort,
		Message: fmt.Sprintf("cannot connect %s.%s (%s) to %s.%s (%s)",
			upProcess, upPort, upType, downProcess, downPort, downType),
		Details: map[string]any{
			"upstream_process": upProcess,
			"upstream_port":    upPort,
			"upstream_type":    upType,
			"downstream_type":  downType,
		},
	}
}

// PortReconnect reports a port that is already bound.
func PortReconnect(process, port string) *Error {
	return &Error{
		Kind: KindPortReconnect, Process: process, Port: port,
		Message: fmt.Sprintf("port %s.%s is already connected", process, port),
	}
}

// MissingConnection reports a required port left unconnected.
func MissingConnection(process, port, reason string) *Error {
	return &Error{
		Kind: KindMissingConnection, Process: process, Port: port,
		Message: fmt.Sprintf("port %s.%s: %s", process, port, reason),
	}
}

// UntypedConnection reports a connection that never resolved to a concrete type.
func UntypedConnection(upProcess, upPort, downProcess, downPort string) *Error {
	return &Error{
		Kind: KindUntypedConnection, Process: downProcess, Port: downPort,
		Message: fmt.Sprintf("connection %s.%s -> %s.%s has no concrete type",
			upProcess, upPort, downProcess, downPort),
	}
}

// FlagMismatch reports port flags that forbid a connection.
func FlagMismatch(process, port, reason string) *Error {
	return &Error{
		Kind: KindFlagMismatch, Process: process, Port: port,
		Message: fmt.Sprintf("port %s.%s: %s", process, port, reason),
	}
}

// DuplicatePort reports a cluster port name declared twice.
func DuplicatePort(cluster, port string) *Error {
	return &Error{
		Kind: KindDuplicatePort, Process: cluster, Port: port,
		Message: fmt.Sprintf("cluster %q declares port %q more than once", cluster, port),
	}
}

// --- Configuration constructors ---

// InvalidConfiguration reports a process that rejected its configuration.
func InvalidConfiguration(process, reason string) *Error {
	return &Error{
		Kind: KindInvalidConfiguration, Process: process,
		Message: fmt.Sprintf("process %q: %s", process, reason),
	}
}

// UnknownConfigurationValue reports a missing configuration key.
func UnknownConfigurationValue(process, key string) *Error {
	return &Error{
		Kind: KindUnknownConfigurationValue, Process: process, Key: key,
		Message: fmt.Sprintf("process %q: no value for configuration key %q", process, key),
	}
}

// InvalidConfigurationValue reports a configuration key holding a bad value.
func InvalidConfigurationValue(process, key, value, reason string) *Error {
	return &Error{
		Kind: KindInvalidConfigurationValue, Process: process, Key: key, Value: value,
		Message: fmt.Sprintf("process %q: invalid value %q for key %q: %s", process, value, key, reason),
	}
}

// BadValueCast reports a configuration value that could not be converted.
func BadValueCast(key, value, target string) *Error {
	return &Error{
		Kind: KindBadValueCast, Key: key, Value: value,
		Message: fmt.Sprintf("cannot convert value %q of key %q to %s", value, key, target),
	}
}

// ReadOnlyValue reports an attempt to change a locked configuration key.
func ReadOnlyValue(key string) *Error {
	return &Error{
		Kind: KindReadOnlyValue, Key: key,
		Message: fmt.Sprintf("configuration key %q is read-only", key),
	}
}

// --- Pipeline constructors ---

// PipelineIsCyclic reports a cycle through non-feedback edges.
func PipelineIsCyclic(cycle []string) *Error {
	return &Error{
		Kind:    KindPipelineIsCyclic,
		Message: fmt.Sprintf("cycle detected: %s", strings.Join(cycle, " -> ")),
		Details: map[string]any{"cycle": cycle},
	}
}

// PipelineAlreadySetup reports a mutation after setup.
func PipelineAlreadySetup(operation string) *Error {
	return &Error{
		Kind:    KindPipelineAlreadySetup,
		Message: fmt.Sprintf("%s is not permitted once the pipeline is set up", operation),
	}
}

// PipelineNotSetup reports an operation that requires setup first.
func PipelineNotSetup(operation string) *Error {
	return &Error{
		Kind:    KindPipelineNotSetup,
		Message: fmt.Sprintf("%s requires a set-up pipeline", operation),
	}
}

// NoSuchProcess reports a process name unknown to the pipeline.
func NoSuchProcess(name string) *Error {
	return &Error{
		Kind: KindNoSuchProcess, Process: name,
		Message: fmt.Sprintf("no process named %q", name),
	}
}

// DuplicateProcessName reports a process name already in use.
func DuplicateProcessName(name string) *Error {
	return &Error{
		Kind: KindDuplicateProcessName, Process: name,
		Message: fmt.Sprintf("a process named %q already exists", name),
	}
}

// InvalidState reports a lifecycle call made from the wrong state.
func InvalidState(process, operation, state string) *Error {
	return &Error{
		Kind: KindInvalidState, Process: process,
		Message: fmt.Sprintf("process %q: %s is not valid in state %s", process, operation, state),
	}
}

// --- Registry and runtime constructors ---

// NoSuchProcessType reports a factory lookup that found nothing.
func NoSuchProcessType(typ string) *Error {
	return &Error{
		Kind:    KindNoSuchProcessType,
		Message: fmt.Sprintf("no process type %q is registered", typ),
		Details: map[string]any{"type": typ},
	}
}

// ProcessConstructionFailed reports a registered constructor that failed.
func ProcessConstructionFailed(typ, name string, cause error) *Error {
	return &Error{
		Kind: KindProcessConstructionFailed, Process: name,
		Message: fmt.Sprintf("constructing process %q of type %q failed", name, typ),
		Details: map[string]any{"type": typ},
		Cause:   cause,
	}
}

// NoSuchAlgorithm reports an algorithm lookup that found nothing.
func NoSuchAlgorithm(group, name string) *Error {
	return &Error{
		Kind:    KindNoSuchAlgorithm,
		Message: fmt.Sprintf("no algorithm %q registered in group %q", name, group),
		Details: map[string]any{"group": group, "name": name},
	}
}

// NoSuchSchedulerType reports an unknown scheduling policy.
func NoSuchSchedulerType(typ string) *Error {
	return &Error{
		Kind:    KindNoSuchSchedulerType,
		Message: fmt.Sprintf("no scheduler type %q is registered", typ),
	}
}

// InitFailed wraps a process init error with the process name.
func InitFailed(process string, cause error) *Error {
	return &Error{
		Kind: KindInitFailed, Process: process,
		Message: fmt.Sprintf("process %q failed to initialize", process),
		Cause:   cause,
	}
}

// StepFailed wraps a process step error with the originating process name.
func StepFailed(process string, cause error) *Error {
	return &Error{
		Kind: KindStepFailed, Process: process,
		Message: fmt.Sprintf("process %q failed while stepping", process),
		Cause:   cause,
	}
}

// Stopped reports a run ended by an explicit stop request.
func Stopped() *Error {
	return &Error{Kind: KindStopped, Message: "scheduler was stopped"}
}
