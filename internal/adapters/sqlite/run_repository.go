package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/auditsync/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
)

type runModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	StartDate    string    `gorm:"column:start_date;not null"`
	EndDate      string    `gorm:"column:end_date;not null"`
	Status       string    `gorm:"column:status;not null"`
	DatasetID    string    `gorm:"column:dataset_id;not null"`
	OutputPath   string    `gorm:"column:output_path;not null"`
	TotalRecords int       `gorm:"column:total_records;not null"`
	Error        string    `gorm:"column:error;not null"`
	StartedAt    time.Time `gorm:"column:started_at;not null"`
	FinishedAt   time.Time `gorm:"column:finished_at;not null"`
}

func (runModel) TableName() string {
	return "sync_runs"
}

type tenantResultModel struct {
	RunID    string `gorm:"column:run_id;primaryKey"`
	Position int    `gorm:"column:position;primaryKey"`
	ClientID string `gorm:"column:client_id;not null"`
	Domain   string `gorm:"column:domain;not null"`
	Status   string `gorm:"column:status;not null"`
	Records  int    `gorm:"column:records;not null"`
	Error    string `gorm:"column:error;not null"`
}

func (tenantResultModel) TableName() string {
	return "sync_tenant_results"
}

// RunRepository is the SQLite run ledger.
type RunRepository struct {
	db *gormsqlite.DB
}

func NewRunRepository(db *gormsqlite.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Save(ctx context.Context, report domain.RunReport, event domain.RunEvent) error {
	return r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		run := runModel{
			ID:           report.ID,
			StartDate:    report.StartDate,
			EndDate:      report.EndDate,
			Status:       string(report.Status),
			DatasetID:    report.DatasetID,
			OutputPath:   report.OutputPath,
			TotalRecords: report.TotalRecords,
			Error:        report.Error,
			StartedAt:    report.StartedAt.UTC(),
			FinishedAt:   report.FinishedAt.UTC(),
		}
		if err := tx.Create(&run).Error; err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		if len(report.Tenants) > 0 {
			tenants := make([]tenantResultModel, 0, len(report.Tenants))
			for _, t := range report.Tenants {
				tenants = append(tenants, tenantResultModel{
					RunID:    report.ID,
					Position: t.Position,
					ClientID: t.ClientID,
					Domain:   t.Domain,
					Status:   string(t.Status),
					Records:  t.Records,
					Error:    t.Error,
				})
			}
			if err := tx.Create(&tenants).Error; err != nil {
				return fmt.Errorf("insert tenant results: %w", err)
			}
		}

		return insertOutbox(tx.DB, report.ID, event)
	})
}

func (r *RunRepository) Get(ctx context.Context, id string) (domain.RunReport, error) {
	var run runModel
	var tenants []tenantResultModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := tx.Where("id = ?", id).First(&run).Error; err != nil {
			return err
		}
		return tx.Where("run_id = ?", id).Order("position ASC").Find(&tenants).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RunReport{}, domain.ErrNotFound
		}
		return domain.RunReport{}, fmt.Errorf("get run: %w", err)
	}
	return toRunReport(run, tenants), nil
}

func (r *RunRepository) List(ctx context.Context, limit int) ([]domain.RunReport, error) {
	var runs []runModel
	var tenants []tenantResultModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := tx.Order("started_at DESC").Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
			return err
		}
		if len(runs) == 0 {
			return nil
		}
		ids := make([]string, 0, len(runs))
		for _, run := range runs {
			ids = append(ids, run.ID)
		}
		return tx.Where("run_id IN ?", ids).Order("run_id ASC").Order("position ASC").Find(&tenants).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	byRun := make(map[string][]tenantResultModel, len(runs))
	for _, t := range tenants {
		byRun[t.RunID] = append(byRun[t.RunID], t)
	}
	result := make([]domain.RunReport, 0, len(runs))
	for _, run := range runs {
		result = append(result, toRunReport(run, byRun[run.ID]))
	}
	return result, nil
}

func toRunReport(run runModel, tenants []tenantResultModel) domain.RunReport {
	report := domain.RunReport{
		ID:           run.ID,
		StartDate:    run.StartDate,
		EndDate:      run.EndDate,
		Status:       domain.RunStatus(run.Status),
		DatasetID:    run.DatasetID,
		OutputPath:   run.OutputPath,
		TotalRecords: run.TotalRecords,
		Error:        run.Error,
		StartedAt:    run.StartedAt.UTC(),
		FinishedAt:   run.FinishedAt.UTC(),
		Tenants:      make([]domain.TenantResult, 0, len(tenants)),
	}
	for _, t := range tenants {
		report.Tenants = append(report.Tenants, domain.TenantResult{
			Position: t.Position,
			ClientID: t.ClientID,
			Domain:   t.Domain,
			Status:   domain.TenantStatus(t.Status),
			Records:  t.Records,
			Error:    t.Error,
		})
	}
	return report
}

func insertOutbox(tx *gorm.DB, runID string, event domain.RunEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	occurred := event.OccurredAt.UTC()
	outbox := outboxEventModel{
		EventID:       event.EventID,
		RunID:         runID,
		Topic:         event.EventType,
		PayloadJSON:   string(payload),
		Status:        string(domain.OutboxPending),
		Attempts:      0,
		NextAttemptAt: occurred,
		LastError:     "",
		CreatedAt:     occurred,
	}
	if err := tx.Create(&outbox).Error; err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}
