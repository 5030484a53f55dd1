package dispatch

import (
	"sync"

	"github.com/arXiv/arxiv-compiler/compiler"
)

// BackendState mirrors the states a Celery AsyncResult can report, which
// §4.1 maps onto Task status. It is the closed set Get() switches on.
type BackendState string

const (
	BackendPending BackendState = "pending"
	BackendSent    BackendState = "sent"
	BackendStarted BackendState = "started"
	BackendRetry   BackendState = "retry"
	BackendFailure BackendState = "failure"
	BackendSuccess BackendState = "success"
)

// ResultBackend is the durable per-task result cell the spec treats as an
// external collaborator (§1 Out of scope: "the task queue / result
// backend"). Under at-least-once delivery a task_id can be marked more than
// once: MarkSent and MarkStarted leave a terminal state (success or
// failure) untouched, while MarkSuccess and MarkFailure always record the
// latest outcome.
type ResultBackend interface {
	// State reports taskID's current state and, when BackendSuccess, the
	// decoded result. ok is false only when the backend has never heard of
	// taskID (BackendPending).
	State(taskID string) (state BackendState, result compiler.Task, ok bool)
	MarkSent(taskID string)
	MarkStarted(taskID string)
	MarkSuccess(taskID string, result compiler.Task)
	MarkFailure(taskID string)
}

// InMemoryBackend is a mutex-guarded map standing in for a durable
// external result backend (e.g. a Celery/Redis result backend), adequate
// for a single-process deployment and for tests.
type InMemoryBackend struct {
	mu     sync.Mutex
	states map[string]BackendState
	result map[string]compiler.Task
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		states: map[string]BackendState{},
		result: map[string]compiler.Task{},
	}
}

func (b *InMemoryBackend) State(taskID string) (BackendState, compiler.Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.states[taskID]
	if !ok {
		return BackendPending, compiler.Task{}, false
	}
	if state == BackendSuccess {
		return state, b.result[taskID], true
	}
	return state, compiler.Task{}, true
}

func (b *InMemoryBackend) MarkSent(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.states[taskID] == BackendSuccess || b.states[taskID] == BackendFailure {
		return
	}
	b.states[taskID] = BackendSent
}

func (b *InMemoryBackend) MarkStarted(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.states[taskID] == BackendSuccess || b.states[taskID] == BackendFailure {
		return
	}
	b.states[taskID] = BackendStarted
}

func (b *InMemoryBackend) MarkSuccess(taskID string, result compiler.Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[taskID] = BackendSuccess
	b.result[taskID] = result
}

func (b *InMemoryBackend) MarkFailure(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.states[taskID] = BackendFailure
}
