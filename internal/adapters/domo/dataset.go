package domo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
	"github.com/atvirokodosprendimai/auditsync/internal/platform/metrics"
)

const DefaultDatasetName = "Activity Log"

type DatasetConfig struct {
	BaseURL string
	// Name is used when Upload has to create the dataset.
	Name string
}

type createDatasetRequest struct {
	Name   string               `json:"name"`
	Schema domain.DatasetSchema `json:"schema"`
}

type createDatasetResponse struct {
	ID string `json:"id"`
}

// DatasetClient creates, fills and downloads datasets using a data-scope token.
type DatasetClient struct {
	cfg     DatasetConfig
	auth    *Authenticator
	exec    *Executor
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewDatasetClient builds a dataset client authorized with a data scope token.
func NewDatasetClient(cfg DatasetConfig, auth *Authenticator, exec *Executor, logger *zap.Logger, m *metrics.Metrics) *DatasetClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Name == "" {
		cfg.Name = DefaultDatasetName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatasetClient{cfg: cfg, auth: auth, exec: exec, logger: logger, metrics: m}
}

func (c *DatasetClient) datasetsURL(parts ...string) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/datasets"
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

func (c *DatasetClient) authed(ctx context.Context) *Executor {
	return c.exec.WithClient(c.auth.HTTPClient(ctx, c.exec.Client()))
}

// Create makes a new dataset and returns its id.
func (c *DatasetClient) Create(ctx context.Context, name string, schema domain.DatasetSchema) (string, error) {
	id, err := c.create(ctx, name, schema)
	c.metrics.DatasetOperation("create", err)
	if err != nil {
		return "", &domain.DatasetError{Op: "create dataset", Err: err}
	}
	c.logger.Info("dataset created", zap.String("dataset_id", id), zap.String("name", name), zap.Int("columns", len(schema.Columns)))
	return id, nil
}

func (c *DatasetClient) create(ctx context.Context, name string, schema domain.DatasetSchema) (string, error) {
	payload := createDatasetRequest{Name: name, Schema: schema}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal create request: %w", err)
	}
	if err := validateShape(createDatasetShape, encoded); err != nil {
		return "", err
	}

	header := make(http.Header)
	header.Set("Content-Type", contentTypeJSON)
	header.Set("Accept", contentTypeJSON)
	resp, err := c.authed(ctx).Execute(ctx, Request{
		Method: http.MethodPost,
		URL:    c.datasetsURL(),
		Header: header,
		Body:   payload,
	})
	if err != nil {
		return "", err
	}

	var out createDatasetResponse
	if err := resp.Decode(&out); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("create response has no dataset id")
	}
	return out.ID, nil
}

// ReplaceData overwrites the dataset content with csv.
func (c *DatasetClient) ReplaceData(ctx context.Context, datasetID string, csv []byte) error {
	header := make(http.Header)
	header.Set("Content-Type", contentTypeCSV)
	_, err := c.authed(ctx).Execute(ctx, Request{
		Method: http.MethodPut,
		URL:    c.datasetsURL(datasetID, "data"),
		Header: header,
		Body:   csv,
	})
	c.metrics.DatasetOperation("replace_data", err)
	if err != nil {
		return &domain.DatasetError{Op: "upload data", DatasetID: datasetID, Err: err}
	}
	return nil
}

// Upload writes table to datasetID. When datasetID is empty a dataset is
// created first with a schema inferred from the table. It returns the id
// the data was written to.
func (c *DatasetClient) Upload(ctx context.Context, table *domain.Table, datasetID string) (string, error) {
	if table.Len() == 0 {
		return "", &domain.DatasetError{Op: "upload data", DatasetID: datasetID, Err: domain.ErrEmptyTable}
	}

	if datasetID == "" {
		id, err := c.Create(ctx, c.cfg.Name, domain.InferSchema(table))
		if err != nil {
			return "", err
		}
		datasetID = id
	}

	var buf bytes.Buffer
	if err := table.EncodeCSV(&buf); err != nil {
		return "", &domain.DatasetError{Op: "encode csv", DatasetID: datasetID, Err: err}
	}
	if err := c.ReplaceData(ctx, datasetID, buf.Bytes()); err != nil {
		return "", err
	}

	c.logger.Info("dataset data replaced", zap.String("dataset_id", datasetID), zap.Int("records", table.Len()), zap.Int("bytes", buf.Len()))
	return datasetID, nil
}

// Download writes the dataset content, header included, to outputPath and
// returns the path.
func (c *DatasetClient) Download(ctx context.Context, datasetID, outputPath string) (string, error) {
	if datasetID == "" {
		return "", &domain.DatasetError{Op: "download data", Err: errors.New("dataset id is required")}
	}

	header := make(http.Header)
	header.Set("Accept", contentTypeCSV)
	header.Set("Content-Type", contentTypeCSV)
	resp, err := c.authed(ctx).Execute(ctx, Request{
		Method: http.MethodGet,
		URL:    c.datasetsURL(datasetID, "data"),
		Header: header,
		Query:  url.Values{"includeHeader": {"true"}},
	})
	c.metrics.DatasetOperation("download", err)
	if err != nil {
		return "", &domain.DatasetError{Op: "download data", DatasetID: datasetID, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", &domain.DatasetError{Op: "download data", DatasetID: datasetID, Err: fmt.Errorf("create output dir: %w", err)}
	}
	if err := os.WriteFile(outputPath, resp.Body, 0o644); err != nil {
		return "", &domain.DatasetError{Op: "download data", DatasetID: datasetID, Err: fmt.Errorf("write output: %w", err)}
	}

	c.logger.Info("dataset downloaded", zap.String("dataset_id", datasetID), zap.String("path", outputPath), zap.Int("bytes", len(resp.Body)))
	return outputPath, nil
}
