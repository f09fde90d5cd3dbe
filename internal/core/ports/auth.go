package ports

import (
	"context"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
)

type CredentialSource interface {
	Load(ctx context.Context) ([]domain.Credential, error)
}
