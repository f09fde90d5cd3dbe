package ports

import (
	"context"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
)

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event domain.RunEvent) error
}
