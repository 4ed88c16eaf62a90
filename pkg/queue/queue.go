// pkg/queue/queue.go
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// ErrDuplicateTask means a task with the same id is already in the queue.
var ErrDuplicateTask = errors.New("task already enqueued")

// Enqueuer is what producers depend on.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, job Job, opts ...asynq.Option) error
}

// Stats is a snapshot of one queue.
type Stats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Archived  int    `json:"archived"`
	Completed int    `json:"completed"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Paused    bool   `json:"paused"`
}

// Config defines the broker connection and task defaults.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TaskTimeout   time.Duration
	Retention     time.Duration
}

// AsynqQueue is the asynq producer plus an inspector for stats.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	redis     *redis.Client
	cfg       Config
}

func (c *Config) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

// NewAsynqQueue creates the producer side of the broker.
func NewAsynqQueue(cfg *Config) (*AsynqQueue, error) {
	if cfg == nil || cfg.RedisAddr == "" {
		return nil, errors.New("queue: redis address is required")
	}

	redisOpt := cfg.RedisOpt()
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		redis:     redisClient,
		cfg:       *cfg,
	}, nil
}

// Enqueue puts job on queueName. Tasks never retry at the broker: stage
// handlers record failures on the document instead.
func (q *AsynqQueue) Enqueue(ctx context.Context, queueName string, job Job, opts ...asynq.Option) error {
	task, err := NewTask(queueName, job)
	if err != nil {
		return err
	}

	all := make([]asynq.Option, 0, len(opts)+4)
	all = append(all, asynq.Queue(queueName), asynq.MaxRetry(0))
	if q.cfg.TaskTimeout > 0 {
		all = append(all, asynq.Timeout(q.cfg.TaskTimeout))
	}
	if q.cfg.Retention > 0 {
		all = append(all, asynq.Retention(q.cfg.Retention))
	}
	all = append(all, opts...)

	if _, err := q.client.EnqueueContext(ctx, task, all...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return fmt.Errorf("%w: %v", ErrDuplicateTask, err)
		}
		return fmt.Errorf("failed to enqueue task on %s: %w", queueName, err)
	}
	return nil
}

// NewTask builds the asynq task for a job on the given queue.
func NewTask(queueName string, job Job, opts ...asynq.Option) (*asynq.Task, error) {
	taskType, err := TaskTypeFor(queueName)
	if err != nil {
		return nil, err
	}
	payload, err := job.Marshal()
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, payload, opts...), nil
}

// Stats reports both pipeline queues. A queue that never received a task
// reports zeros.
func (q *AsynqQueue) Stats(ctx context.Context) ([]Stats, error) {
	names := []string{QueueTextExtraction, QueueStructuring}
	out := make([]Stats, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := q.inspector.GetQueueInfo(name)
		if errors.Is(err, asynq.ErrQueueNotFound) {
			out = append(out, Stats{Queue: name})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to inspect queue %s: %w", name, err)
		}
		out = append(out, Stats{
			Queue:     name,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Archived:  info.Archived,
			Completed: info.Completed,
			Processed: info.Processed,
			Failed:    info.Failed,
			Paused:    info.Paused,
		})
	}
	return out, nil
}

// Ping checks the broker connection.
func (q *AsynqQueue) Ping(ctx context.Context) error {
	if err := q.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Redis exposes the shared connection for other redis users (the fiscal cache).
func (q *AsynqQueue) Redis() *redis.Client {
	return q.redis
}

func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close(), q.redis.Close())
}
