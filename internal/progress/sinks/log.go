package sinks

import (
	"context"

	"go.uber.org/zap"

	"magharvest/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where metrics alone are too coarse.
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

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("task_id", evt.TaskID),
			zap.String("stage", string(evt.Stage)),
			zap.String("mode", evt.Mode),
			zap.String("section", evt.Section),
			zap.Int("percent", evt.Percent),
			zap.Int64("threads", evt.Threads),
			zap.Int64("magnets", evt.Magnets),
			zap.Int64("failed", evt.Failed),
			zap.Duration("dur", evt.Dur),
			zap.String("message", evt.Message),
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
