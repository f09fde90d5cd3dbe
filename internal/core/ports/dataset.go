package ports

import (
	"context"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
)

type DatasetSink interface {
	Upload(ctx context.Context, table *domain.Table, datasetID string) (string, error)
}

type TableWriter interface {
	WriteTable(ctx context.Context, path string, table *domain.Table) error
}
