package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
	"github.com/atvirokodosprendimai/auditsync/internal/core/ports"
	"github.com/atvirokodosprendimai/auditsync/internal/platform/metrics"
)

type SyncRequest struct {
	StartDate  string
	EndDate    string
	DatasetID  string
	OutputPath string
	BatchSize  int
}

type SyncDeps struct {
	Credentials ports.CredentialSource
	Sources     ports.AuditSourceFactory
	Writer      ports.TableWriter
	Sink        ports.DatasetSink
	// Runs is optional. Without it reports are only returned.
	Runs    ports.RunRepository
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// SyncService pulls every tenant's activity log for a date range, writes the
// combined table locally and replaces the target dataset with it.
type SyncService struct {
	creds   ports.CredentialSource
	sources ports.AuditSourceFactory
	writer  ports.TableWriter
	sink    ports.DatasetSink
	runs    ports.RunRepository
	logger  *zap.Logger
	metrics *metrics.Metrics

	now   func() time.Time
	newID func() string
}

func NewSyncService(deps SyncDeps) *SyncService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		creds:   deps.Credentials,
		sources: deps.Sources,
		writer:  deps.Writer,
		sink:    deps.Sink,
		runs:    deps.Runs,
		logger:  logger,
		metrics: deps.Metrics,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Run executes one sync. Tenant failures are recorded in the report and do
// not stop the run; credential, write and upload failures fail it. The
// returned report is populated even when err is non-nil, except for an
// invalid date range which is rejected before anything runs.
func (s *SyncService) Run(ctx context.Context, req SyncRequest) (domain.RunReport, error) {
	if _, err := domain.ParseDateRange(req.StartDate, req.EndDate, time.UTC); err != nil {
		return domain.RunReport{}, err
	}

	report := domain.RunReport{
		ID:        s.newID(),
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		DatasetID: req.DatasetID,
		StartedAt: s.now().UTC(),
		Tenants:   []domain.TenantResult{},
	}
	log := s.logger.With(zap.String("run_id", report.ID))
	log.Info("sync run started", zap.String("start_date", req.StartDate), zap.String("end_date", req.EndDate))

	combined, err := s.collect(ctx, log, req, &report)
	if err != nil {
		return s.finish(ctx, log, report, err)
	}
	report.TotalRecords = combined.Len()
	if combined.Len() == 0 {
		log.Warn("no activity data for any tenant")
		report.Status = domain.RunNoData
		return s.finish(ctx, log, report, nil)
	}

	if req.OutputPath != "" {
		if err := s.writer.WriteTable(ctx, req.OutputPath, combined); err != nil {
			return s.finish(ctx, log, report, fmt.Errorf("write output file: %w", err))
		}
		report.OutputPath = req.OutputPath
	}

	datasetID, err := s.sink.Upload(ctx, combined, req.DatasetID)
	if err != nil {
		return s.finish(ctx, log, report, fmt.Errorf("upload activity data: %w", err))
	}
	report.DatasetID = datasetID
	report.Status = domain.RunSucceeded
	return s.finish(ctx, log, report, nil)
}

func (s *SyncService) collect(ctx context.Context, log *zap.Logger, req SyncRequest, report *domain.RunReport) (*domain.Table, error) {
	creds, err := s.creds.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	log.Info("credentials loaded", zap.Int("tenants", len(creds)))

	tables := make([]*domain.Table, 0, len(creds))
	for i, cred := range creds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, table := s.fetchTenant(ctx, log, i, cred, req)
		report.Tenants = append(report.Tenants, result)
		s.metrics.TenantResult(string(result.Status))
		tables = append(tables, table)
	}
	return domain.Concat(tables...), nil
}

func (s *SyncService) fetchTenant(ctx context.Context, log *zap.Logger, pos int, cred domain.Credential, req SyncRequest) (domain.TenantResult, *domain.Table) {
	result := domain.TenantResult{Position: pos, ClientID: cred.Redacted()}
	log = log.With(zap.String("client_id", cred.Redacted()))
	log.Info("processing instance")

	table, err := s.sources(cred).Fetch(ctx, req.StartDate, req.EndDate, req.BatchSize)
	if err != nil {
		log.Error("instance failed", zap.Error(err))
		result.Status = domain.TenantFailed
		result.Error = err.Error()
		return result, nil
	}
	if table.Len() == 0 {
		result.Status = domain.TenantEmpty
		return result, nil
	}

	result.Status = domain.TenantOK
	result.Records = table.Len()
	if v, ok := table.Records[0].Get(domain.DomainColumn); ok && !v.IsNull() {
		result.Domain = v.String()
	}
	log.Info("instance fetched", zap.String("domain", result.Domain), zap.Int("records", result.Records))
	return result, table
}

func (s *SyncService) finish(ctx context.Context, log *zap.Logger, report domain.RunReport, runErr error) (domain.RunReport, error) {
	report.FinishedAt = s.now().UTC()
	if runErr != nil {
		report.Status = domain.RunFailed
		report.Error = runErr.Error()
		log.Error("sync run failed", zap.Error(runErr))
	} else {
		log.Info("sync run finished",
			zap.String("status", string(report.Status)),
			zap.Int("records", report.TotalRecords),
			zap.Int("failed_tenants", len(report.Failed())),
			zap.String("dataset_id", report.DatasetID),
		)
	}
	s.metrics.RunFinished(string(report.Status))

	if s.runs != nil {
		// the ledger entry outlives a cancelled run
		saveCtx := context.WithoutCancel(ctx)
		if err := s.runs.Save(saveCtx, report, domain.NewRunEvent(s.newID(), report)); err != nil {
			log.Error("save run report", zap.Error(err))
		}
	}
	return report, runErr
}

// IsInvalidRequest reports whether err came from validating a SyncRequest.
func IsInvalidRequest(err error) bool {
	return errors.Is(err, domain.ErrInvalidDateRange)
}
