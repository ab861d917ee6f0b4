package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/tickercrawl/internal/progress"
)

// LogSink writes one structured log line per crawl event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch. Failures log at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Symbol != "" {
			fields = append(fields, zap.String("symbol", evt.Symbol), zap.String("locator", evt.Locator))
		}
		if evt.Rows > 0 {
			fields = append(fields, zap.Int64("rows", evt.Rows))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageEntityFailed {
			s.logger.Warn("crawl progress", fields...)
			continue
		}
		s.logger.Info("crawl progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
