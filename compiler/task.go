package compiler

import "fmt"

// Task is the authoritative record of one compilation attempt. TaskID is
// derived from SourceID, Checksum and OutputFormat and must be treated as
// the primary key everywhere: queue, store and URL.
type Task struct {
	SourceID     string  `json:"source_id"`
	Checksum     string  `json:"checksum"`
	OutputFormat Format  `json:"output_format"`
	TaskID       string  `json:"task_id"`
	Status       Status  `json:"status"`
	Reason       Reason  `json:"reason"`
	Description  string  `json:"description,omitempty"`
	SizeBytes    int64   `json:"size_bytes"`
	Owner        string  `json:"owner,omitempty"`
}

// TaskID computes the deterministic primary key for a compilation triple.
func TaskID(sourceID, checksum string, format Format) string {
	return fmt.Sprintf("%s/%s/%s", sourceID, checksum, format)
}

// NewInProgressTask builds the initial record dispatch writes after a job
// has been enqueued.
func NewInProgressTask(sourceID, checksum string, format Format, owner string) Task {
	return Task{
		SourceID:     sourceID,
		Checksum:     checksum,
		OutputFormat: format,
		TaskID:       TaskID(sourceID, checksum, format),
		Status:       StatusInProgress,
		Reason:       ReasonNone,
		Owner:        owner,
	}
}

// Failed returns a copy of t transitioned to a terminal failure state.
func (t Task) Failed(reason Reason, description string) Task {
	t.Status = StatusFailed
	t.Reason = reason
	t.Description = description
	t.SizeBytes = 0
	return t
}

// Completed returns a copy of t transitioned to a terminal success state.
func (t Task) Completed(sizeBytes int64) Task {
	t.Status = StatusCompleted
	t.Reason = ReasonNone
	t.Description = ""
	t.SizeBytes = sizeBytes
	return t
}

// IsTerminal reports whether t is in a state that, per the store invariant,
// is immutable absent an explicit force=true recompilation.
func (t Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// IsCompleted reports whether the task finished successfully.
func (t Task) IsCompleted() bool {
	return t.Status == StatusCompleted
}

// IsFailed reports whether the task finished unsuccessfully.
func (t Task) IsFailed() bool {
	return t.Status == StatusFailed
}

// Product is a transient byte stream returned by the store on retrieval,
// together with its strong etag when the backend supplies one.
type Product struct {
	Stream   []byte
	Checksum string
}

// SourcePackage is the result of a source fetch: a file written to a
// worker-writable directory that is also reachable from the converter host
// under a configured root prefix.
type SourcePackage struct {
	SourceID string
	Path     string
	ETag     string
}

// SourcePackageInfo is the owner-lookup counterpart of SourcePackage; it
// carries no local path because no content is fetched.
type SourcePackageInfo struct {
	SourceID string
	ETag     string
	Owner    string
}
