package errors

// Kind is a machine-readable error classification.
type Kind string

// Connection and port errors, raised by connect and setup.
const (
	// KindNoSuchPort indicates a port name that the process never declared.
	KindNoSuchPort Kind = "no-such-port"
	// KindTypeMismatch indicates two concrete port types that do not unify.
	KindTypeMismatch Kind = "type-mismatch"
	// KindPortReconnect indicates a port that is already bound and does not accept more edges.
	KindPortReconnect Kind = "port-reconnect"
	// KindMissingConnection indicates a required port left unconnected, or a
	// cluster forwarding entry that names a port no internal process has.
	KindMissingConnection Kind = "missing-connection"
	// KindUntypedConnection indicates a connection whose ends are both still wildcards at setup.
	KindUntypedConnection Kind = "untyped-connection"
	// KindFlagMismatch indicates port flags that forbid the requested topology.
	KindFlagMismatch Kind = "flag-mismatch"
	// KindDuplicatePort indicates a cluster port name declared more than once.
	KindDuplicatePort Kind = "duplicate-port"
)

// Configuration errors.
const (
	// KindInvalidConfiguration indicates a process rejected its configuration as a whole.
	KindInvalidConfiguration Kind = "invalid-configuration"
	// KindUnknownConfigurationValue indicates a required configuration key is absent.
	KindUnknownConfigurationValue Kind = "unknown-configuration-value"
	// KindInvalidConfigurationValue indicates a configuration key holds an unacceptable value.
	KindInvalidConfigurationValue Kind = "invalid-configuration-value"
	// KindBadValueCast indicates a configuration value that cannot be parsed as the requested type.
	KindBadValueCast Kind = "bad-value-cast"
	// KindReadOnlyValue indicates an attempt to change a locked configuration key.
	KindReadOnlyValue Kind = "read-only-value"
)

// Pipeline errors.
const (
	// KindPipelineIsCyclic indicates a cycle through edges not marked as feedback.
	KindPipelineIsCyclic Kind = "pipeline-is-cyclic"
	// KindPipelineAlreadySetup indicates a mutation after setup made the pipeline immutable.
	KindPipelineAlreadySetup Kind = "pipeline-already-setup"
	// KindPipelineNotSetup indicates an operation that needs a set-up pipeline.
	KindPipelineNotSetup Kind = "pipeline-not-setup"
	// KindNoSuchProcess indicates a process name unknown to the pipeline.
	KindNoSuchProcess Kind = "no-such-process"
	// KindDuplicateProcessName indicates two processes added under the same name.
	KindDuplicateProcessName Kind = "duplicate-process-name"
	// KindInvalidState indicates a lifecycle call made from the wrong process state.
	KindInvalidState Kind = "invalid-state"
)

// Registry and runtime errors.
const (
	// KindNoSuchProcessType indicates a factory lookup that found no constructor.
	KindNoSuchProcessType Kind = "no-such-process-type"
	// KindProcessConstructionFailed indicates a constructor that was found but failed.
	KindProcessConstructionFailed Kind = "process-construction-failed"
	// KindNoSuchAlgorithm indicates an algorithm lookup that found no factory.
	KindNoSuchAlgorithm Kind = "no-such-algorithm"
	// KindNoSuchSchedulerType indicates an unknown scheduling policy name.
	KindNoSuchSchedulerType Kind = "no-such-scheduler-type"
	// KindInitFailed wraps an error returned while initializing a process.
	KindInitFailed Kind = "init-failed"
	// KindStepFailed wraps an error returned by a process step.
	KindStepFailed Kind = "step-failed"
	// KindStopped indicates a scheduler run that ended because Stop was called.
	KindStopped Kind = "stopped"
)

// structuralKinds are detected synchronously at connect or setup, never while stepping.
var structuralKinds = map[Kind]bool{
	KindNoSuchPort:           true,
	KindTypeMismatch:         true,
	KindPortReconnect:        true,
	KindMissingConnection:    true,
	KindUntypedConnection:    true,
	KindFlagMismatch:         true,
	KindDuplicatePort:        true,
	KindPipelineIsCyclic:     true,
	KindDuplicateProcessName: true,
}

// IsStructuralKind reports whether the kind describes a graph-shape problem.
func IsStructuralKind(kind Kind) bool {
	return structuralKinds[kind]
}
