package compiler

// Status is the closed set of task states visible outside the worker.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Reason is the closed set of terminal-failure causes. Reason is always
// "none" unless Status is StatusFailed.
type Reason string

const (
	ReasonNone               Reason = "none"
	ReasonAuthError          Reason = "auth_error"
	ReasonMissingSource      Reason = "missing_source"
	ReasonInvalidSourceType  Reason = "invalid_source_type"
	ReasonCorruptedSource    Reason = "corrupted_source"
	ReasonStorage            Reason = "storage"
	ReasonCancelled          Reason = "cancelled"
	ReasonCompilationErrors  Reason = "compilation_errors"
	ReasonNetworkError       Reason = "network_error"
	ReasonDocker             Reason = "docker"
)
