package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"magharvest/internal/notify"
	"magharvest/internal/progress"
)

// NotifySink forwards terminal task events to a notification publisher. Only
// TASK_DONE and TASK_ERROR events leave the process; everything else is
// observability-local.
type NotifySink struct {
	publisher notify.Publisher
	logger    *zap.Logger
}

// NewNotifySink constructs a NotifySink for the provided publisher.
func NewNotifySink(publisher notify.Publisher, logger *zap.Logger) *NotifySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifySink{publisher: publisher, logger: logger}
}

// Consume publishes a completion for each terminal event in the batch. It
// respects ctx deadlines and returns the first publish error.
func (s *NotifySink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if !evt.Terminal() {
			continue
		}
		status := notify.StatusDone
		if evt.Stage == progress.StageTaskError {
			status = notify.StatusError
		}
		id, err := s.publisher.Publish(ctx, notify.Completion{
			TaskID:     evt.TaskID,
			Mode:       evt.Mode,
			Status:     status,
			Message:    evt.Message,
			Threads:    evt.Threads,
			Magnets:    evt.Magnets,
			Failed:     evt.Failed,
			FinishedAt: evt.TS,
		})
		if err != nil {
			return fmt.Errorf("publish completion: %w", err)
		}
		s.logger.Debug("completion published",
			zap.String("task_id", evt.TaskID),
			zap.String("status", status),
			zap.String("message_id", id),
		)
	}
	return nil
}

// Close closes the underlying publisher.
func (s *NotifySink) Close(context.Context) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	return s.publisher.Close()
}
