package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
)

// LogPublisher writes run events to the process log. It is used when no
// webhook is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, event domain.RunEvent) error {
	p.logger.Info("run event",
		zap.String("topic", topic),
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("run_id", event.Run.ID),
		zap.String("status", string(event.Run.Status)),
		zap.Int("records", event.Run.TotalRecords),
		zap.Int("failed_tenants", len(event.Run.Failed())),
	)
	return nil
}
