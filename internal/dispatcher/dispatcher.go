// Package dispatcher fans pending entities out to a bounded pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/tickercrawl/internal/clock/system"
	"github.com/JakeFAU/tickercrawl/internal/crawler"
	"github.com/JakeFAU/tickercrawl/internal/progress"
	"github.com/JakeFAU/tickercrawl/internal/queue/memory"
	"github.com/JakeFAU/tickercrawl/internal/worker"
)

// ErrInvalidConcurrency is returned by Run when the worker count is not positive.
var ErrInvalidConcurrency = errors.New("concurrency must be positive")

// Config controls Dispatcher behavior.
type Config struct {
	// QueueSize bounds the entity queue. Zero means twice the worker count.
	QueueSize int
}

// Dispatcher runs one crawl pass over a set of entities.
type Dispatcher struct {
	processor worker.Processor
	emitter   progress.Emitter
	ids       crawler.IDGenerator
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New creates a Dispatcher. emitter, ids and clock are optional.
func New(
	processor worker.Processor,
	emitter progress.Emitter,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if emitter == nil {
		emitter = progress.Discard
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		processor: processor,
		emitter:   emitter,
		ids:       ids,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("dispatcher"),
	}
}

// Run processes every entity with exactly one of workers goroutines and
// returns once each has reached a terminal outcome. Per-entity failures are
// collected in the summary. The first fatal error cancels the remaining work
// and is returned alongside the partial summary.
func (d *Dispatcher) Run(ctx context.Context, entities []crawler.Entity, workers int) (crawler.RunSummary, error) {
	if workers <= 0 {
		return crawler.RunSummary{}, fmt.Errorf("%w: got %d", ErrInvalidConcurrency, workers)
	}
	runID, err := d.newRunID()
	if err != nil {
		return crawler.RunSummary{}, err
	}
	ctx = progress.WithRunID(ctx, runID)
	summary := crawler.RunSummary{RunID: progress.Event{RunID: runID}.RunUUID().String()}
	logger := d.logger.With(zap.String("run_id", summary.RunID))

	start := d.clock.Now()
	d.emitter.Emit(progress.Event{RunID: runID, TS: start, Stage: progress.StageRunStart, Rows: int64(len(entities))})
	logger.Info("crawl run started", zap.Int("entities", len(entities)), zap.Int("workers", workers))

	size := d.cfg.QueueSize
	if size <= 0 {
		size = 2 * workers
	}
	queue := memory.NewQueue(size)

	var mu sync.Mutex
	report := func(o crawler.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		summary.Add(o)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer queue.Close()
		for _, e := range entities {
			if err := queue.Enqueue(gctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	for i := 0; i < workers; i++ {
		w := worker.New(i, queue, d.processor, report, d.logger)
		g.Go(func() error {
			return w.Run(gctx)
		})
	}
	runErr := g.Wait()

	mu.Lock()
	defer mu.Unlock()
	summary.Duration = d.clock.Now().Sub(start)
	done := progress.Event{RunID: runID, TS: d.clock.Now(), Stage: progress.StageRunDone, Dur: summary.Duration}
	if runErr != nil {
		done.Note = runErr.Error()
	}
	d.emitter.Emit(done)

	fields := []zap.Field{
		zap.Int("done", summary.Done),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration),
	}
	if runErr != nil {
		logger.Error("crawl run aborted", append(fields, zap.Error(runErr))...)
		return summary, fmt.Errorf("crawl run %s: %w", summary.RunID, runErr)
	}
	logger.Info("crawl run finished", fields...)
	return summary, nil
}

func (d *Dispatcher) newRunID() ([16]byte, error) {
	if d.ids == nil {
		return progress.UUIDToBytes(uuid.New()), nil
	}
	id, err := d.ids.NewID()
	if err != nil {
		return [16]byte{}, fmt.Errorf("generate run id: %w", err)
	}
	return progress.ParseRunID(id)
}
