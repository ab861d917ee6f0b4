// Package coordinator drives one entity through fetch, append and mark-done.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/tickercrawl/internal/clock/system"
	"github.com/JakeFAU/tickercrawl/internal/crawler"
	"github.com/JakeFAU/tickercrawl/internal/metrics"
	"github.com/JakeFAU/tickercrawl/internal/progress"
)

var tracer = otel.Tracer("github.com/JakeFAU/tickercrawl/internal/coordinator")

// Config controls Coordinator behavior.
type Config struct {
	// Topic receives an entity-completed notification after MarkDone. Empty disables publishing.
	Topic string
}

// Coordinator processes single entities. It holds no per-entity state and is
// safe for concurrent use by many workers.
type Coordinator struct {
	entities  crawler.EntityStore
	records   crawler.RecordStore
	fetcher   crawler.Fetcher
	publisher crawler.Publisher
	emitter   progress.Emitter
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Coordinator. publisher and emitter are optional.
func New(
	entities crawler.EntityStore,
	records crawler.RecordStore,
	fetcher crawler.Fetcher,
	publisher crawler.Publisher,
	emitter progress.Emitter,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if emitter == nil {
		emitter = progress.Discard
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		entities:  entities,
		records:   records,
		fetcher:   fetcher,
		publisher: publisher,
		emitter:   emitter,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("coordinator"),
	}
}

// Process runs the entity state machine once. Exactly one of three things
// happens: nothing (already done), a reported failure with no state change, or
// a full append followed by MarkDone. Fetch and validation failures come back
// as a failed Outcome; store errors are returned as err and should end the run.
func (c *Coordinator) Process(ctx context.Context, entity crawler.Entity) (out crawler.Outcome, err error) {
	ctx, span := tracer.Start(ctx, "coordinator.Process", trace.WithAttributes(
		attribute.String("entity.symbol", entity.Symbol),
		attribute.String("entity.locator", entity.Locator),
	))
	defer func() { endSpan(span, out, err) }()

	start := c.clock.Now()
	out = crawler.Outcome{Symbol: entity.Symbol, Locator: entity.Locator, Status: crawler.StatusPending}
	logger := c.logger.With(zap.String("symbol", entity.Symbol), zap.String("locator", entity.Locator))

	done, err := c.entities.IsDone(ctx, entity.Locator)
	if err != nil {
		return out, fmt.Errorf("check %s: %w", entity.Symbol, err)
	}
	if done {
		out.Status = crawler.StatusSkipped
		c.finish(ctx, &out, start)
		logger.Debug("entity already done")
		return out, nil
	}

	out.Status = crawler.StatusFetching
	fetchStart := c.clock.Now()
	rows, err := c.fetcher.Fetch(ctx, entity.Locator)
	metrics.ObserveFetch(entity.Locator, err, c.clock.Now().Sub(fetchStart))
	if err != nil {
		if ctx.Err() != nil {
			return out, fmt.Errorf("fetch %s: %w", entity.Symbol, ctx.Err())
		}
		out.Status = crawler.StatusFailed
		out.Err = &crawler.FetchFailure{Locator: entity.Locator, Err: err}
		c.finish(ctx, &out, start)
		logger.Warn("fetch failed", zap.Error(err))
		return out, nil
	}

	// The fetched batch is committed even if ctx is canceled from here on.
	storeCtx := context.WithoutCancel(ctx)
	n, err := c.records.Append(storeCtx, entity.Symbol, rows)
	if err != nil {
		var vErr *crawler.ValidationError
		if errors.As(err, &vErr) {
			out.Status = crawler.StatusFailed
			out.Err = err
			c.finish(ctx, &out, start)
			logger.Warn("fetched rows rejected", zap.Error(err))
			return out, nil
		}
		return out, fmt.Errorf("append records for %s: %w", entity.Symbol, err)
	}
	out.Status = crawler.StatusWritten
	out.Rows = n

	if err = c.entities.MarkDone(storeCtx, entity.Locator); err != nil {
		return out, fmt.Errorf("mark %s done: %w", entity.Symbol, err)
	}
	out.Status = crawler.StatusDone
	c.finish(ctx, &out, start)
	logger.Info("entity done", zap.Int("rows", n), zap.Duration("duration", out.Duration))
	c.publish(storeCtx, entity, n, logger)
	return out, nil
}

func endSpan(span trace.Span, out crawler.Outcome, err error) {
	span.SetAttributes(
		attribute.String("entity.status", string(out.Status)),
		attribute.Int("entity.rows", out.Rows),
	)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case out.Err != nil:
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, "entity failed")
	}
	span.End()
}

func (c *Coordinator) finish(ctx context.Context, out *crawler.Outcome, start time.Time) {
	out.Duration = c.clock.Now().Sub(start)
	metrics.ObserveEntity(string(out.Status), out.Rows)

	runID, ok := progress.RunIDFrom(ctx)
	if !ok {
		return
	}
	evt := progress.Event{
		RunID:   runID,
		TS:      c.clock.Now(),
		Symbol:  out.Symbol,
		Locator: out.Locator,
		Rows:    int64(out.Rows),
		Dur:     out.Duration,
	}
	switch out.Status {
	case crawler.StatusDone:
		evt.Stage = progress.StageEntityDone
	case crawler.StatusSkipped:
		evt.Stage = progress.StageEntitySkipped
	default:
		evt.Stage = progress.StageEntityFailed
		if out.Err != nil {
			evt.Note = out.Err.Error()
		}
	}
	c.emitter.Emit(evt)
}

// publish is best effort: the entity is already marked done.
func (c *Coordinator) publish(ctx context.Context, entity crawler.Entity, rows int, logger *zap.Logger) {
	if c.cfg.Topic == "" || c.publisher == nil {
		return
	}
	payload := map[string]any{
		"symbol":    entity.Symbol,
		"locator":   entity.Locator,
		"rows":      rows,
		"timestamp": c.clock.Now().Format(time.RFC3339),
	}
	if runID, ok := progress.RunIDFrom(ctx); ok {
		payload["run_id"] = progress.Event{RunID: runID}.RunUUID().String()
	}
	id, err := c.publisher.Publish(ctx, c.cfg.Topic, payload)
	if err != nil {
		metrics.ObservePublishFailure()
		logger.Warn("publish completion failed", zap.String("topic", c.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("completion published", zap.String("message_id", id))
}
