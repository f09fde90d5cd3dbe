package domo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
	"github.com/atvirokodosprendimai/auditsync/internal/platform/metrics"
)

const (
	DefaultBatchSize = 1000
	DefaultMaxPages  = 10000
)

// AuditConfig bounds audit log paging.
type AuditConfig struct {
	BaseURL string
	// MaxPages caps the page loop. Zero disables the cap; negative means DefaultMaxPages.
	MaxPages int
	Location *time.Location
}

// AuditLogClient pages through one tenant's audit endpoint.
type AuditLogClient struct {
	cfg     AuditConfig
	auth    *Authenticator
	exec    *Executor
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewAuditLogClient builds a client whose requests carry auth's bearer token.
// exec supplies the base HTTP client.
func NewAuditLogClient(cfg AuditConfig, auth *Authenticator, exec *Executor, logger *zap.Logger, m *metrics.Metrics) *AuditLogClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxPages < 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogClient{
		cfg:     cfg,
		auth:    auth,
		exec:    exec,
		logger:  logger,
		metrics: m,
	}
}

func (c *AuditLogClient) endpoint() string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/audit"
}

// Fetch returns every record between startDate and endDate (YYYY-MM-DD),
// tagged with the tenant domain. The loop stops at the first empty page. A
// failed page ends the loop and whatever was collected so far is returned.
// A nil table means the window had no records.
func (c *AuditLogClient) Fetch(ctx context.Context, startDate, endDate string, batchSize int) (*domain.Table, error) {
	dates, err := domain.ParseDateRange(startDate, endDate, c.cfg.Location)
	if err != nil {
		return nil, &domain.FetchError{Op: "validate dates", Err: err}
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	start, end := dates.UnixMillis()

	exec := c.exec.WithClient(c.auth.HTTPClient(ctx, c.exec.Client()))
	table := domain.NewTable()
	offset := 0
	pages := 0

	for {
		if c.cfg.MaxPages > 0 && pages >= c.cfg.MaxPages {
			c.logger.Warn("audit page limit reached, keeping partial result",
				zap.Int("max_pages", c.cfg.MaxPages), zap.Int("offset", offset), zap.Int("records", table.Len()))
			break
		}

		c.logger.Debug("fetching audit page", zap.Int("offset", offset), zap.Int("limit", batchSize))
		records, err := c.fetchPage(ctx, exec, start, end, batchSize, offset)
		pages++
		if err != nil {
			var authErr *domain.AuthenticationError
			if errors.As(err, &authErr) {
				return nil, &domain.FetchError{Op: "authenticate", Err: authErr}
			}
			c.metrics.PageFailed()
			c.logger.Error("error fetching audit batch, keeping partial result",
				zap.Int("offset", offset), zap.Int("records", table.Len()), zap.Error(err))
			break
		}
		c.metrics.PageFetched(len(records))
		if len(records) == 0 {
			break
		}

		table.Append(records...)
		offset += batchSize
	}

	if table.Len() == 0 {
		return nil, nil
	}

	tenantDomain, err := c.auth.Domain(ctx)
	if err != nil {
		return nil, &domain.FetchError{Op: "resolve domain", Err: err}
	}
	table.TagDomain(tenantDomain)
	return table, nil
}

func (c *AuditLogClient) fetchPage(ctx context.Context, exec *Executor, start, end int64, limit, offset int) ([]domain.Record, error) {
	header := make(http.Header)
	header.Set("Accept", contentTypeJSON)

	resp, err := exec.Execute(ctx, Request{
		Method: http.MethodGet,
		URL:    c.endpoint(),
		Header: header,
		Query: url.Values{
			"start":  {strconv.FormatInt(start, 10)},
			"end":    {strconv.FormatInt(end, 10)},
			"limit":  {strconv.Itoa(limit)},
			"offset": {strconv.Itoa(offset)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch activity logs: %w", err)
	}
	if resp.Empty() {
		return nil, nil
	}
	if err := validateShape(auditPageShape, resp.Body); err != nil {
		return nil, fmt.Errorf("decode audit page: %w", err)
	}

	var records []domain.Record
	if err := resp.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode audit page: %w", err)
	}
	return records, nil
}
