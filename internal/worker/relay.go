package worker

import (
	"context"
	"fmt"
	"sync/atomic"

	"expensetracker/internal/amqp"
	"expensetracker/internal/log"
	"expensetracker/internal/stream"
)

// ChangeSource is implemented by the record stores and the repository.
type ChangeSource interface {
	Changes(buffer int) (<-chan stream.Change, func())
}

// Publisher is implemented by *amqp.Client.
type Publisher interface {
	PublishExpenseChange(ctx context.Context, msg *amqp.ExpenseChangeMessage) error
}

// ChangeRelay forwards every committed store mutation to a broker. A failed
// publish is logged and counted; the relay moves on to the next change.
type ChangeRelay struct {
	source    ChangeSource
	publisher Publisher
	buffer    int
	logger    *log.Logger

	published atomic.Int64
	failed    atomic.Int64
}

func NewChangeRelay(source ChangeSource, publisher Publisher, buffer int, logger *log.Logger) *ChangeRelay {
	if logger == nil {
		logger = log.Discard()
	}
	return &ChangeRelay{
		source:    source,
		publisher: publisher,
		buffer:    buffer,
		logger:    logger.WithComponent(log.ComponentRelay),
	}
}

// Run blocks until ctx is done or the store closes its feed. It returns nil
// when the feed closes.
func (r *ChangeRelay) Run(ctx context.Context) error {
	changes, unsubscribe := r.source.Changes(r.buffer)
	defer unsubscribe()

	r.logger.InfoContext(ctx, "Change relay started", "buffer", r.buffer)

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "Change relay stopping",
				"published", r.published.Load(),
				"failed", r.failed.Load())
			return ctx.Err()
		case c, ok := <-changes:
			if !ok {
				r.logger.InfoContext(ctx, "Change feed closed, relay done")
				return nil
			}
			if err := r.handle(ctx, c); err != nil {
				r.failed.Add(1)
				r.logger.Failure(ctx, "Failed to relay change", err,
					log.FieldOperation, string(c.Op),
					log.FieldExpenseID, c.Expense.ID)
				continue
			}
			r.published.Add(1)
		}
	}
}

func (r *ChangeRelay) handle(ctx context.Context, c stream.Change) error {
	msg := amqp.NewExpenseChangeMessage(c)
	if err := r.publisher.PublishExpenseChange(ctx, msg); err != nil {
		return fmt.Errorf("publish %s of expense %d: %w", c.Op, c.Expense.ID, err)
	}
	r.logger.DebugContext(ctx, "Change relayed",
		log.FieldMessageID, msg.MessageID,
		log.FieldOperation, msg.Operation,
		log.FieldExpenseID, msg.ID)
	return nil
}

// Stats returns how many changes were published and how many failed.
func (r *ChangeRelay) Stats() (published, failed int64) {
	return r.published.Load(), r.failed.Load()
}
