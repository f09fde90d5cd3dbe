package usecase

import (
	"context"
	"strings"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
	"github.com/atvirokodosprendimai/auditsync/internal/core/ports"
)

const (
	defaultRunListLimit = 50
	maxRunListLimit     = 500
)

type RunService struct {
	repo ports.RunRepository
}

func NewRunService(repo ports.RunRepository) *RunService {
	return &RunService{repo: repo}
}

func (s *RunService) Get(ctx context.Context, id string) (domain.RunReport, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.RunReport{}, domain.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// List returns the most recent runs first.
func (s *RunService) List(ctx context.Context, limit int) ([]domain.RunReport, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	if limit > maxRunListLimit {
		limit = maxRunListLimit
	}
	return s.repo.List(ctx, limit)
}
