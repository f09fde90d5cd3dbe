package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
	"github.com/atvirokodosprendimai/auditsync/internal/core/ports"
	"github.com/atvirokodosprendimai/auditsync/internal/platform/metrics"
)

type credentialStub struct {
	creds []domain.Credential
	err   error
}

func (s credentialStub) Load(context.Context) ([]domain.Credential, error) {
	return s.creds, s.err
}

type auditSourceStub struct {
	fetchFn func(ctx context.Context, start, end string, batch int) (*domain.Table, error)
}

func (s auditSourceStub) Fetch(ctx context.Context, start, end string, batch int) (*domain.Table, error) {
	return s.fetchFn(ctx, start, end, batch)
}

type writerStub struct {
	writeFn func(ctx context.Context, path string, table *domain.Table) error
	paths   []string
}

func (w *writerStub) WriteTable(ctx context.Context, path string, table *domain.Table) error {
	w.paths = append(w.paths, path)
	if w.writeFn != nil {
		return w.writeFn(ctx, path, table)
	}
	return nil
}

type sinkStub struct {
	uploadFn func(ctx context.Context, table *domain.Table, datasetID string) (string, error)
	tables   []*domain.Table
}

func (s *sinkStub) Upload(ctx context.Context, table *domain.Table, datasetID string) (string, error) {
	s.tables = append(s.tables, table)
	if s.uploadFn != nil {
		return s.uploadFn(ctx, table, datasetID)
	}
	if datasetID == "" {
		return "ds-new", nil
	}
	return datasetID, nil
}

type runRepoStub struct {
	saveErr error
	saved   []domain.RunReport
	events  []domain.RunEvent
	getFn   func(ctx context.Context, id string) (domain.RunReport, error)
	listFn  func(ctx context.Context, limit int) ([]domain.RunReport, error)
}

func (r *runRepoStub) Save(_ context.Context, report domain.RunReport, event domain.RunEvent) error {
	r.saved = append(r.saved, report)
	r.events = append(r.events, event)
	return r.saveErr
}

func (r *runRepoStub) Get(ctx context.Context, id string) (domain.RunReport, error) {
	if r.getFn != nil {
		return r.getFn(ctx, id)
	}
	return domain.RunReport{ID: id}, nil
}

func (r *runRepoStub) List(ctx context.Context, limit int) ([]domain.RunReport, error) {
	if r.listFn != nil {
		return r.listFn(ctx, limit)
	}
	return nil, nil
}

// tenantTable builds n domain-tagged records the way an audit source returns them.
func tenantTable(t *testing.T, tenantDomain string, n int) *domain.Table {
	t.Helper()
	if n == 0 {
		return nil
	}
	recs := make([]domain.Record, 0, n)
	for i := 0; i < n; i++ {
		var rec domain.Record
		raw := fmt.Sprintf(`{"userId":%d,"eventName":"VIEWED"}`, i)
		require.NoError(t, json.Unmarshal([]byte(raw), &rec))
		recs = append(recs, rec)
	}
	table := domain.NewTable(recs...)
	table.TagDomain(tenantDomain)
	return table
}

type syncFixture struct {
	service *SyncService
	writer  *writerStub
	sink    *sinkStub
	runs    *runRepoStub
	metrics *metrics.Metrics
	fetched []string
}

func newSyncFixture(t *testing.T, creds credentialStub, sources map[string]auditSourceStub) *syncFixture {
	t.Helper()
	f := &syncFixture{
		writer:  &writerStub{},
		sink:    &sinkStub{},
		runs:    &runRepoStub{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	f.service = NewSyncService(SyncDeps{
		Credentials: creds,
		Sources: func(cred domain.Credential) ports.AuditSource {
			f.fetched = append(f.fetched, cred.ClientID)
			return sources[cred.ClientID]
		},
		Writer:  f.writer,
		Sink:    f.sink,
		Runs:    f.runs,
		Metrics: f.metrics,
	})
	ids := 0
	f.service.newID = func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}
	clock := time.Date(2025, 4, 4, 6, 0, 0, 0, time.UTC)
	f.service.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return f
}

func fixedSource(table *domain.Table, err error) auditSourceStub {
	return auditSourceStub{fetchFn: func(context.Context, string, string, int) (*domain.Table, error) {
		return table, err
	}}
}

func TestSyncCombinesTenantsInCredentialOrder(t *testing.T) {
	creds := credentialStub{creds: []domain.Credential{
		{ClientID: "a", ClientSecret: "s"},
		{ClientID: "b", ClientSecret: "s"},
	}}
	f := newSyncFixture(t, creds, map[string]auditSourceStub{
		"a": fixedSource(tenantTable(t, "a.domo.com", 5), nil),
		"b": fixedSource(tenantTable(t, "b.domo.com", 0), nil),
	})

	report, err := f.service.Run(context.Background(), SyncRequest{
		StartDate:  "2025-04-01",
		EndDate:    "2025-04-03",
		OutputPath: "data/out.csv",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.RunSucceeded, report.Status)
	assert.Equal(t, 5, report.TotalRecords)
	assert.Equal(t, "ds-new", report.DatasetID)
	assert.Equal(t, "data/out.csv", report.OutputPath)
	require.Len(t, f.sink.tables, 1)
	require.Equal(t, 5, f.sink.tables[0].Len())
	for _, rec := range f.sink.tables[0].Records {
		d, _ := rec.Get(domain.DomainColumn)
		assert.Equal(t, "a.domo.com", d.String())
	}
	assert.Equal(t, []string{"data/out.csv"}, f.writer.paths)

	assert.Equal(t, []domain.TenantResult{
		{Position: 0, ClientID: "a", Domain: "a.domo.com", Status: domain.TenantOK, Records: 5},
		{Position: 1, ClientID: "b", Status: domain.TenantEmpty},
	}, report.Tenants)

	require.Len(t, f.runs.saved, 1)
	assert.Equal(t, report.ID, f.runs.saved[0].ID)
	ev := f.runs.events[0]
	assert.Equal(t, "sync.run.succeeded", ev.EventType)
	assert.Equal(t, report.ID, ev.Run.ID)
	assert.NotEqual(t, report.ID, ev.EventID)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TenantResults.WithLabelValues("empty")))
}

func TestSyncTenantFailureIsRecordedAndOthersContinue(t *testing.T) {
	creds := credentialStub{creds: []domain.Credential{
		{ClientID: "bad", ClientSecret: "s"},
		{ClientID: "good", ClientSecret: "s"},
	}}
	authErr := &domain.FetchError{Op: "authenticate", Err: &domain.AuthenticationError{Scope: domain.ScopeAudit, Msg: "failed to get access token"}}
	f := newSyncFixture(t, creds, map[string]auditSourceStub{
		"bad":  fixedSource(nil, authErr),
		"good": fixedSource(tenantTable(t, "good.domo.com", 3), nil),
	})

	report, err := f.service.Run(context.Background(), SyncRequest{StartDate: "2025-04-01", EndDate: "2025-04-03", DatasetID: "ds-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, report.Status)
	assert.Equal(t, 3, report.TotalRecords)
	assert.Equal(t, "ds-1", report.DatasetID)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].ClientID)
	assert.Equal(t, authErr.Error(), failed[0].Error)
	assert.Empty(t, f.writer.paths, "no output file without OutputPath")
}

func TestSyncNoDataSkipsOutputAndUpload(t *testing.T) {
	creds := credentialStub{creds: []domain.Credential{{ClientID: "a", ClientSecret: "s"}}}
	f := newSyncFixture(t, creds, map[string]auditSourceStub{"a": fixedSource(nil, nil)})

	report, err := f.service.Run(context.Background(), SyncRequest{StartDate: "2025-04-01", EndDate: "2025-04-01", OutputPath: "out.csv"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunNoData, report.Status)
	assert.Empty(t, f.writer.paths)
	assert.Empty(t, f.sink.tables)
	require.Len(t, f.runs.events, 1)
	assert.Equal(t, "sync.run.no_data", f.runs.events[0].EventType)
}

func TestSyncInvalidDateRangeFailsBeforeAnyWork(t *testing.T) {
	f := newSyncFixture(t, credentialStub{err: errors.New("must not be called")}, nil)

	_, err := f.service.Run(context.Background(), SyncRequest{StartDate: "2025-04-03", EndDate: "2025-04-01"})
	assert.True(t, IsInvalidRequest(err), "expected invalid date range, got %v", err)
	assert.Empty(t, f.fetched)
	assert.Empty(t, f.runs.saved)
}

func TestSyncFatalFailures(t *testing.T) {
	creds := credentialStub{creds: []domain.Credential{{ClientID: "a", ClientSecret: "s"}}}
	sources := map[string]auditSourceStub{"a": fixedSource(tenantTable(t, "a.domo.com", 2), nil)}

	t.Run("credentials", func(t *testing.T) {
		f := newSyncFixture(t, credentialStub{err: errors.New("open credentials file: no such file")}, sources)
		report, err := f.service.Run(context.Background(), SyncRequest{StartDate: "2025-04-01", EndDate: "2025-04-03"})
		require.Error(t, err)
		assert.Equal(t, domain.RunFailed, report.Status)
		require.Len(t, f.runs.saved, 1)
		assert.NotEmpty(t, f.runs.saved[0].Error)
	})

	t.Run("upload", func(t *testing.T) {
		f := newSyncFixture(t, creds, sources)
		uploadErr := &domain.DatasetError{Op: "upload data", DatasetID: "ds-1", Err: errors.New("boom")}
		f.sink.uploadFn = func(context.Context, *domain.Table, string) (string, error) { return "", uploadErr }

		report, err := f.service.Run(context.Background(), SyncRequest{StartDate: "2025-04-01", EndDate: "2025-04-03", DatasetID: "ds-1", OutputPath: "out.csv"})
		var dsErr *domain.DatasetError
		require.ErrorAs(t, err, &dsErr)
		assert.Equal(t, domain.RunFailed, report.Status)
		assert.Equal(t, "out.csv", report.OutputPath)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Runs.WithLabelValues("failed")))
	})

	t.Run("write", func(t *testing.T) {
		f := newSyncFixture(t, creds, sources)
		f.writer.writeFn = func(context.Context, string, *domain.Table) error { return errors.New("disk full") }

		report, err := f.service.Run(context.Background(), SyncRequest{StartDate: "2025-04-01", EndDate: "2025-04-03", OutputPath: "out.csv"})
		require.Error(t, err)
		assert.Equal(t, domain.RunFailed, report.Status)
		assert.Empty(t, f.sink.tables, "no upload after write failure")
	})
}

func TestSyncLedgerFailureIsNotFatal(t *testing.T) {
	creds := credentialStub{creds: []domain.Credential{{ClientID: "a", ClientSecret: "s"}}}
	f := newSyncFixture(t, creds, map[string]auditSourceStub{"a": fixedSource(tenantTable(t, "a.domo.com", 1), nil)})
	f.runs.saveErr = errors.New("database is locked")

	report, err := f.service.Run(context.Background(), SyncRequest{StartDate: "2025-04-01", EndDate: "2025-04-03"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, report.Status)
}

func TestSyncCancelledRunIsStillSaved(t *testing.T) {
	creds := credentialStub{creds: []domain.Credential{{ClientID: "a", ClientSecret: "s"}, {ClientID: "b", ClientSecret: "s"}}}
	ctx, cancel := context.WithCancel(context.Background())
	f := newSyncFixture(t, creds, map[string]auditSourceStub{
		"a": {fetchFn: func(context.Context, string, string, int) (*domain.Table, error) {
			cancel()
			return nil, nil
		}},
	})

	report, err := f.service.Run(ctx, SyncRequest{StartDate: "2025-04-01", EndDate: "2025-04-03"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, f.fetched, "second tenant skipped")
	require.Len(t, f.runs.saved, 1)
	assert.Equal(t, report.ID, f.runs.saved[0].ID)
}
