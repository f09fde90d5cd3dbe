package ports

import (
	"context"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
)

// AuditSource fetches one tenant's activity log. A nil table with a nil error
// means the window had no records.
type AuditSource interface {
	Fetch(ctx context.Context, startDate, endDate string, batchSize int) (*domain.Table, error)
}

type AuditSourceFactory func(cred domain.Credential) AuditSource
