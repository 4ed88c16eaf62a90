package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/receipt-processor/internal/apperr"
	"github.com/feichai0017/receipt-processor/internal/models"
	"github.com/feichai0017/receipt-processor/internal/repository"
	"github.com/feichai0017/receipt-processor/pkg/logger"
	"github.com/feichai0017/receipt-processor/pkg/queue"
)

type OutboxStore interface {
	repository.Documents
	repository.Outbox
}

// Dispatcher moves one outbox message onto the broker. The message id is
// the asynq task id, so dispatching twice enqueues once.
type Dispatcher struct {
	store  OutboxStore
	queue  queue.Enqueuer
	logger logger.Logger
	now    func() time.Time
}

func NewDispatcher(store OutboxStore, q queue.Enqueuer, log logger.Logger) *Dispatcher {
	return &Dispatcher{store: store, queue: q, logger: log.Named("outbox"), now: time.Now}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg models.OutboxMessage) error {
	const op = "receipt.Dispatch"
	log := d.logger.With(
		logger.String("outboxId", msg.ID),
		logger.String("documentId", msg.DocumentID),
		logger.String("queue", msg.Queue),
	)

	var job queue.Job
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		return apperr.E(apperr.KindPersistence, op, err)
	}

	err := d.queue.Enqueue(ctx, msg.Queue, job, asynq.TaskID(msg.ID))
	switch {
	case errors.Is(err, queue.ErrDuplicateTask):
		log.Info("Task already on the broker")
	case err != nil:
		if rerr := d.store.RecordOutboxFailure(ctx, msg.ID, err.Error()); rerr != nil {
			log.Error("Failed to record outbox failure", logger.Error(rerr))
		}
		return apperr.E(apperr.KindUpstream, op, err)
	}

	if err := d.store.MarkDispatched(ctx, msg.ID, d.now()); err != nil {
		return err
	}

	if msg.Queue == queue.QueueTextExtraction {
		outcome, err := d.store.TransitionStatus(ctx, msg.DocumentID, models.StatusExtractionStarted, "")
		if err != nil && !errors.Is(err, models.ErrTerminalState) {
			return err
		}
		log.Debug("Document handed to extraction", logger.String("outcome", outcome.String()))
	}
	return nil
}

// Relay re-dispatches outbox messages the request path could not deliver.
type Relay struct {
	dispatcher *Dispatcher
	store      OutboxStore
	interval   time.Duration
	batch      int
	logger     logger.Logger
}

func NewRelay(dispatcher *Dispatcher, store OutboxStore, interval time.Duration, batch int, log logger.Logger) *Relay {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &Relay{
		dispatcher: dispatcher,
		store:      store,
		interval:   interval,
		batch:      batch,
		logger:     log.Named("relay"),
	}
}

// RunOnce dispatches one batch of messages older than the relay interval,
// leaving fresh ones to the request that wrote them. It returns how many
// were dispatched.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	return r.run(ctx, r.dispatcher.now().Add(-r.interval))
}

// Drain dispatches every pending message regardless of age.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	return r.run(ctx, r.dispatcher.now())
}

func (r *Relay) run(ctx context.Context, cutoff time.Time) (int, error) {
	pending, err := r.store.PendingOutbox(ctx, cutoff, r.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range pending {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if err := r.dispatcher.Dispatch(ctx, msg); err != nil {
			r.logger.Warn("Outbox dispatch failed",
				logger.String("outboxId", msg.ID),
				logger.Int("attempts", msg.Attempts+1),
				logger.Error(err),
			)
			continue
		}
		sent++
	}
	if len(pending) > 0 {
		r.logger.Info("Outbox relayed", logger.Int("pending", len(pending)), logger.Int("sent", sent))
	}
	return sent, nil
}

// Run relays on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Outbox relay started", logger.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Outbox relay pass failed", logger.Error(err))
			}
		}
	}
}
