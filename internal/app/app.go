package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/auditsync/internal/adapters/csvfile"
	"github.com/atvirokodosprendimai/auditsync/internal/adapters/domo"
	"github.com/atvirokodosprendimai/auditsync/internal/adapters/events"
	"github.com/atvirokodosprendimai/auditsync/internal/adapters/httpapi"
	sqliteadapter "github.com/atvirokodosprendimai/auditsync/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/auditsync/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/auditsync/internal/config"
	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
	"github.com/atvirokodosprendimai/auditsync/internal/core/ports"
	"github.com/atvirokodosprendimai/auditsync/internal/core/usecase"
	"github.com/atvirokodosprendimai/auditsync/internal/platform/metrics"
	"github.com/atvirokodosprendimai/auditsync/migrations"
)

const (
	dispatchInterval  = 2 * time.Second
	dispatchBatchSize = 100
)

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// App is the wired process: run ledger, platform clients and services.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	registry   *prometheus.Registry
	dataset    *domo.DatasetClient
	sync       *usecase.SyncService
	runs       *usecase.RunService
	dispatcher *usecase.OutboxDispatcher
	closer     resourceCloser
}

// New opens the run ledger, applies migrations and wires every component.
// The caller must Close the returned App.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	datasetCred, err := cfg.DatasetCredential()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	db, err := gormsqlite.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resolve writer sql db: %w", err)
	}
	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB, logger.Named("migrations")); err != nil {
		_ = db.Close()
		return nil, err
	}

	exec := domo.NewExecutor(&http.Client{Timeout: cfg.HTTPTimeout})
	tokenURL := strings.TrimRight(cfg.APIBaseURL, "/") + "/oauth/token"

	sources := func(cred domain.Credential) ports.AuditSource {
		tenantLog := logger.With(zap.String("client_id", cred.Redacted()))
		auth := domo.NewAuthenticator(domo.AuthConfig{
			ClientID:     cred.ClientID,
			ClientSecret: cred.ClientSecret,
			Scope:        domain.ScopeAudit,
			Buffer:       cfg.TokenBuffer,
			TokenURL:     tokenURL,
		}, exec, tenantLog, domo.WithAuthMetrics(m))
		return domo.NewAuditLogClient(domo.AuditConfig{
			BaseURL:  cfg.APIBaseURL,
			MaxPages: cfg.MaxPages,
		}, auth, exec, tenantLog, m)
	}

	datasetAuth := domo.NewAuthenticator(domo.AuthConfig{
		ClientID:     datasetCred.ClientID,
		ClientSecret: datasetCred.ClientSecret,
		Scope:        domain.ScopeData,
		Buffer:       cfg.TokenBuffer,
		TokenURL:     tokenURL,
	}, exec, logger.Named("dataset"), domo.WithAuthMetrics(m))
	dataset := domo.NewDatasetClient(domo.DatasetConfig{
		BaseURL: cfg.APIBaseURL,
		Name:    cfg.DatasetName,
	}, datasetAuth, exec, logger.Named("dataset"), m)

	runRepo := sqliteadapter.NewRunRepository(db)
	outboxRepo := sqliteadapter.NewOutboxRepository(db)

	var publisher ports.EventPublisher = events.NewLogPublisher(logger.Named("events"))
	if cfg.WebhookURL != "" {
		publisher = events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, cfg.HTTPTimeout)
	}
	dispatcher := usecase.NewOutboxDispatcher(outboxRepo, publisher, dispatchInterval, dispatchBatchSize, logger.Named("outbox"), m)

	syncService := usecase.NewSyncService(usecase.SyncDeps{
		Credentials: csvfile.NewCredentialFile(cfg.CredentialsFile, logger),
		Sources:     sources,
		Writer:      csvfile.NewTableWriter(logger),
		Sink:        dataset,
		Runs:        runRepo,
		Logger:      logger,
		Metrics:     m,
	})

	return &App{
		cfg:        cfg,
		logger:     logger,
		registry:   reg,
		dataset:    dataset,
		sync:       syncService,
		runs:       usecase.NewRunService(runRepo),
		dispatcher: dispatcher,
		closer:     resourceCloser{closers: []io.Closer{dispatcher, db}},
	}, nil
}

// SyncRequest fills the per-run values the caller left empty from config.
func (a *App) SyncRequest(startDate, endDate string) usecase.SyncRequest {
	return usecase.SyncRequest{
		StartDate:  startDate,
		EndDate:    endDate,
		DatasetID:  a.cfg.DatasetID,
		OutputPath: a.cfg.OutputPath,
		BatchSize:  a.cfg.BatchSize,
	}
}

// Sync runs one sync and then delivers the run event it queued.
func (a *App) Sync(ctx context.Context, req usecase.SyncRequest) (domain.RunReport, error) {
	report, err := a.sync.Run(ctx, req)
	if report.ID != "" {
		if dispatchErr := a.dispatcher.DispatchPending(context.WithoutCancel(ctx)); dispatchErr != nil {
			a.logger.Warn("dispatch run events", zap.String("run_id", report.ID), zap.Error(dispatchErr))
		}
	}
	return report, err
}

// Download writes a dataset to outputPath. An empty datasetID means the
// configured DATASET_ID.
func (a *App) Download(ctx context.Context, datasetID, outputPath string) (string, error) {
	if datasetID == "" {
		datasetID = a.cfg.DatasetID
	}
	return a.dataset.Download(ctx, datasetID, outputPath)
}

// Server returns the status API server and starts background event delivery.
func (a *App) Server(ctx context.Context) *http.Server {
	handler := httpapi.NewHandler(
		a.sync,
		a.runs,
		usecase.NewAuthService(a.cfg.APIKey),
		promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		httpapi.SyncDefaults{
			DatasetID:  a.cfg.DatasetID,
			OutputPath: a.cfg.OutputPath,
			BatchSize:  a.cfg.BatchSize,
		},
		a.logger.Named("http"),
	)
	a.dispatcher.Start(ctx)

	return &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (a *App) Close() error {
	return a.closer.Close()
}
