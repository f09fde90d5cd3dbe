package ports

import (
	"context"
	"time"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
)

// RunRepository is the run ledger. Save stores the report and enqueues event
// for delivery in one transaction.
type RunRepository interface {
	Save(ctx context.Context, report domain.RunReport, event domain.RunEvent) error
	Get(ctx context.Context, id string) (domain.RunReport, error)
	List(ctx context.Context, limit int) ([]domain.RunReport, error)
}

type OutboxRepository interface {
	FetchPending(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEvent, error)
	MarkDispatched(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, attempts int, nextAttemptAt time.Time, errMsg string) error
	MarkDead(ctx context.Context, id int64, attempts int, errMsg string) error
}
