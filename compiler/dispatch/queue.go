package dispatch

import (
	"context"
	"fmt"

	"code.cloudfoundry.org/lager/v3"
)

// Job is an opaque queue payload keyed by TaskID. NoOp jobs exist solely
// to support IsAvailable's health-check probe.
type Job struct {
	TaskID string
	NoOp   bool
	Run    func(ctx context.Context)
}

// Queue is the at-least-once FIFO delivery mechanism the spec treats as an
// external collaborator. Enqueue returning an error means the job was
// never accepted; TaskCreationFailedError is raised by the caller, not by
// the queue itself.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// InProcessQueue is a goroutine-pool-backed Queue: a buffered channel plus
// N worker goroutines, admitted by spec §5 ("equivalent designs with
// goroutines+channels... are admitted"). It stands in for a broker like
// Celery/RabbitMQ in a single-process deployment.
type InProcessQueue struct {
	logger  lager.Logger
	jobs    chan Job
	done    chan struct{}
}

func NewInProcessQueue(logger lager.Logger, concurrency, bufferSize int) *InProcessQueue {
	if concurrency <= 0 {
		concurrency = 4
	}
	if bufferSize <= 0 {
		bufferSize = 64
	}

	q := &InProcessQueue{
		logger: logger.Session("queue"),
		jobs:   make(chan Job, bufferSize),
		done:   make(chan struct{}),
	}

	for i := 0; i < concurrency; i++ {
		go q.worker(i)
	}

	return q
}

func (q *InProcessQueue) worker(id int) {
	log := q.logger.Session("worker", lager.Data{"worker_id": id})
	for {
		select {
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.run(log, job)
		case <-q.done:
			return
		}
	}
}

func (q *InProcessQueue) run(log lager.Logger, job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("job-panicked", fmt.Errorf("%v", r), lager.Data{"task_id": job.TaskID})
		}
	}()
	job.Run(context.Background())
}

// Enqueue submits job for asynchronous processing. It never blocks on the
// job's completion; it only blocks briefly if the buffer is full.
func (q *InProcessQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tells the worker goroutines to return; each finishes the job it is
// running first. Jobs still waiting in the buffer may never run, and
// Enqueue keeps accepting jobs after Close while the buffer has room.
func (q *InProcessQueue) Close() {
	close(q.done)
}
