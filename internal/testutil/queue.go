package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/receipt-processor/pkg/queue"
)

// Enqueued is one recorded Enqueue call.
type Enqueued struct {
	Queue  string
	Job    queue.Job
	TaskID string
}

// Enqueuer records jobs. Task ids behave like asynq's: a second enqueue with
// the same id fails with queue.ErrDuplicateTask.
type Enqueuer struct {
	mu   sync.Mutex
	jobs []Enqueued
	ids  map[string]bool

	Err error
	// OnEnqueue runs after a job is recorded, outside the lock.
	OnEnqueue func(Enqueued)
}

func NewEnqueuer() *Enqueuer {
	return &Enqueuer{ids: make(map[string]bool)}
}

func (e *Enqueuer) Enqueue(_ context.Context, queueName string, job queue.Job, opts ...asynq.Option) error {
	if _, err := queue.TaskTypeFor(queueName); err != nil {
		return err
	}

	e.mu.Lock()
	if e.Err != nil {
		e.mu.Unlock()
		return e.Err
	}
	rec := Enqueued{Queue: queueName, Job: job}
	for _, opt := range opts {
		if opt.Type() == asynq.TaskIDOpt {
			rec.TaskID, _ = opt.Value().(string)
		}
	}
	if rec.TaskID != "" {
		if e.ids[rec.TaskID] {
			e.mu.Unlock()
			return fmt.Errorf("%w: task id %s", queue.ErrDuplicateTask, rec.TaskID)
		}
		e.ids[rec.TaskID] = true
	}
	e.jobs = append(e.jobs, rec)
	hook := e.OnEnqueue
	e.mu.Unlock()

	if hook != nil {
		hook(rec)
	}
	return nil
}

func (e *Enqueuer) SetErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Err = err
}

func (e *Enqueuer) Jobs() []Enqueued {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Enqueued(nil), e.jobs...)
}

// On returns the jobs enqueued on one queue.
func (e *Enqueuer) On(queueName string) []Enqueued {
	var out []Enqueued
	for _, j := range e.Jobs() {
		if j.Queue == queueName {
			out = append(out, j)
		}
	}
	return out
}
