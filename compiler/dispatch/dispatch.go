// Package dispatch implements Task Dispatch: deduplication, idempotent
// enqueueing, and task-state lookup keyed by the deterministic task_id.
package dispatch

import (
	"context"
	"time"

	"code.cloudfoundry.org/lager/v3"
	"github.com/arXiv/arxiv-compiler/compiler"
	"github.com/arXiv/arxiv-compiler/compiler/metric"
	"github.com/arXiv/arxiv-compiler/compiler/worker"
)

// Store is the subset of store.Gateway dispatch depends on.
type Store interface {
	SetStatus(ctx context.Context, task compiler.Task) error
	GetStatus(ctx context.Context, sourceID, checksum string, format compiler.Format) (compiler.Task, error)
}

// Compiler is the subset of worker.Worker dispatch depends on to run a job
// once it is popped off the queue.
type Compiler interface {
	Compile(ctx context.Context, req worker.Request) compiler.Task
}

// Dispatch computes task ids, submits jobs to the Queue, and answers
// lookups against the ResultBackend.
type Dispatch struct {
	logger  lager.Logger
	queue   Queue
	backend ResultBackend
	store   Store
	worker  Compiler
}

func New(logger lager.Logger, queue Queue, backend ResultBackend, store Store, w Compiler) *Dispatch {
	return &Dispatch{logger: logger.Session("dispatch"), queue: queue, backend: backend, store: store, worker: w}
}

// Start computes task_id deterministically, enqueues a compilation job,
// and writes the initial in_progress record. It never writes state if
// enqueueing fails.
func (d *Dispatch) Start(ctx context.Context, req worker.Request) (string, error) {
	taskID := compiler.TaskID(req.SourceID, req.Checksum, req.OutputFormat)
	log := d.logger.Session("start", lager.Data{"task_id": taskID})

	job := Job{
		TaskID: taskID,
		Run: func(ctx context.Context) {
			d.backend.MarkStarted(taskID)
			result := d.worker.Compile(ctx, req)
			d.backend.MarkSuccess(taskID, result)
		},
	}

	if err := d.queue.Enqueue(ctx, job); err != nil {
		log.Error("enqueue-failed", err)
		return "", compiler.TaskCreationFailedError{Cause: err}
	}
	// Mirrors the original system's signal handler marking a task "sent"
	// immediately after publish, so a pending-vs-sent distinction is
	// possible even before a worker picks the job up.
	d.backend.MarkSent(taskID)
	metric.RecordTaskCreated(ctx, string(req.OutputFormat))

	initial := compiler.NewInProgressTask(req.SourceID, req.Checksum, req.OutputFormat, req.Owner)
	if err := d.store.SetStatus(ctx, initial); err != nil {
		log.Error("initial-status-write-failed", err)
	}

	return taskID, nil
}

// Get derives task_id and queries the backend, falling back to the store
// when the backend has no row for the id.
func (d *Dispatch) Get(ctx context.Context, sourceID, checksum string, format compiler.Format) (compiler.Task, error) {
	taskID := compiler.TaskID(sourceID, checksum, format)

	state, result, ok := d.backend.State(taskID)
	if !ok {
		if stored, err := d.store.GetStatus(ctx, sourceID, checksum, format); err == nil {
			return stored, nil
		}
		return compiler.Task{}, compiler.NoSuchTaskError{TaskID: taskID}
	}

	switch state {
	case BackendSent, BackendStarted, BackendRetry:
		return compiler.NewInProgressTask(sourceID, checksum, format, ""), nil
	case BackendFailure:
		return compiler.NewInProgressTask(sourceID, checksum, format, "").Failed(compiler.ReasonDocker, "Task execution failed unexpectedly"), nil
	case BackendSuccess:
		return result, nil
	default:
		return compiler.Task{}, compiler.NoSuchTaskError{TaskID: taskID}
	}
}

// IsAvailable enqueues a no-op job and awaits its completion with a short
// timeout, for use by health checks.
func (d *Dispatch) IsAvailable(ctx context.Context) bool {
	done := make(chan struct{})
	job := Job{
		NoOp: true,
		Run:  func(ctx context.Context) { close(done) },
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := d.queue.Enqueue(ctx, job); err != nil {
		return false
	}

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
