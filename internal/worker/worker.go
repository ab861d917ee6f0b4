// Package worker implements the loop that drains the entity queue.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tickercrawl/internal/crawler"
	"github.com/JakeFAU/tickercrawl/internal/metrics"
)

// Processor handles one entity. coordinator.Coordinator satisfies it.
type Processor interface {
	Process(ctx context.Context, entity crawler.Entity) (crawler.Outcome, error)
}

// ReportFunc receives every per-entity outcome. It may be called from many
// workers at once.
type ReportFunc func(crawler.Outcome)

// Worker consumes queue items and hands each to the Processor.
type Worker struct {
	id        int
	queue     crawler.Queue
	processor Processor
	report    ReportFunc
	logger    *zap.Logger
}

// New constructs a Worker.
func New(id int, queue crawler.Queue, processor Processor, report ReportFunc, logger *zap.Logger) *Worker {
	if report == nil {
		report = func(crawler.Outcome) {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		processor: processor,
		report:    report,
		logger:    logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks until the queue is closed and drained (nil), the context ends
// (ctx.Err()), or the Processor returns a fatal error.
func (w *Worker) Run(ctx context.Context) error {
	for {
		entity, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrQueueClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("worker %d dequeue: %w", w.id, err)
		}
		w.logger.Debug("dequeued entity", zap.String("symbol", entity.Symbol))
		if err := w.process(ctx, entity); err != nil {
			return err
		}
	}
}

func (w *Worker) process(ctx context.Context, entity crawler.Entity) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	outcome, err := w.processor.Process(ctx, entity)
	if err != nil {
		w.logger.Error("entity processing aborted", zap.String("symbol", entity.Symbol), zap.Error(err))
		return err
	}
	w.report(outcome)
	return nil
}
