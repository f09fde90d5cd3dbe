package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/auditsync/internal/core/domain"
	"github.com/atvirokodosprendimai/auditsync/internal/core/usecase"
)

const (
	timeFormat      = "2006-01-02T15:04:05.999999999Z07:00"
	maxJSONBodySize = 1 << 20
)

type Syncer interface {
	Run(ctx context.Context, req usecase.SyncRequest) (domain.RunReport, error)
}

type RunReader interface {
	Get(ctx context.Context, id string) (domain.RunReport, error)
	List(ctx context.Context, limit int) ([]domain.RunReport, error)
}

// SyncDefaults fill the parts of a POST /v1/runs request the caller omits.
type SyncDefaults struct {
	DatasetID  string
	OutputPath string
	BatchSize  int
}

type Handler struct {
	syncer      Syncer
	runs        RunReader
	authService *usecase.AuthService
	metrics     http.Handler
	defaults    SyncDefaults
	logger      *zap.Logger
}

func NewHandler(syncer Syncer, runs RunReader, authService *usecase.AuthService, metrics http.Handler, defaults SyncDefaults, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return &Handler{
		syncer:      syncer,
		runs:        runs,
		authService: authService,
		metrics:     metrics,
		defaults:    defaults,
		logger:      logger,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)
	r.Method(http.MethodGet, "/metrics", h.metrics)

	r.Group(func(pr chi.Router) {
		pr.Use(h.requireAPIKey)
		pr.Get("/v1/runs", h.listRuns)
		pr.Post("/v1/runs", h.startRun)
		pr.Get("/v1/runs/{id}", h.getRun)
	})

	return r
}

type startRunRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	DatasetID string `json:"dataset_id,omitempty"`
}

type tenantResponse struct {
	Position int    `json:"position"`
	ClientID string `json:"client_id"`
	Domain   string `json:"domain,omitempty"`
	Status   string `json:"status"`
	Records  int    `json:"records"`
	Error    string `json:"error,omitempty"`
}

type runResponse struct {
	ID           string           `json:"id"`
	StartDate    string           `json:"start_date"`
	EndDate      string           `json:"end_date"`
	Status       string           `json:"status"`
	DatasetID    string           `json:"dataset_id,omitempty"`
	OutputPath   string           `json:"output_path,omitempty"`
	TotalRecords int              `json:"total_records"`
	Error        string           `json:"error,omitempty"`
	Tenants      []tenantResponse `json:"tenants"`
	StartedAt    string           `json:"started_at"`
	FinishedAt   string           `json:"finished_at"`
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)

	var req startRunRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	datasetID := req.DatasetID
	if datasetID == "" {
		datasetID = h.defaults.DatasetID
	}
	report, err := h.syncer.Run(r.Context(), usecase.SyncRequest{
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		DatasetID:  datasetID,
		OutputPath: h.defaults.OutputPath,
		BatchSize:  h.defaults.BatchSize,
	})
	switch {
	case usecase.IsInvalidRequest(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Warn("sync run via api failed", zap.String("run_id", report.ID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, toRunResponse(report))
	default:
		writeJSON(w, http.StatusCreated, toRunResponse(report))
	}
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(report))
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	reports, err := h.runs.List(r.Context(), limit)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}

	result := make([]runResponse, 0, len(reports))
	for _, report := range reports {
		result = append(result, toRunResponse(report))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": result})
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openapiSpec())
}

func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.authService.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		token := ""
		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			token = strings.TrimSpace(auth[7:])
		}
		if err := h.authService.Authenticate(token); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func toRunResponse(report domain.RunReport) runResponse {
	resp := runResponse{
		ID:           report.ID,
		StartDate:    report.StartDate,
		EndDate:      report.EndDate,
		Status:       string(report.Status),
		DatasetID:    report.DatasetID,
		OutputPath:   report.OutputPath,
		TotalRecords: report.TotalRecords,
		Error:        report.Error,
		Tenants:      make([]tenantResponse, 0, len(report.Tenants)),
		StartedAt:    report.StartedAt.UTC().Format(timeFormat),
		FinishedAt:   report.FinishedAt.UTC().Format(timeFormat),
	}
	for _, t := range report.Tenants {
		resp.Tenants = append(resp.Tenants, tenantResponse{
			Position: t.Position,
			ClientID: t.ClientID,
			Domain:   t.Domain,
			Status:   string(t.Status),
			Records:  t.Records,
			Error:    t.Error,
		})
	}
	return resp
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be integer")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func (h *Handler) handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func openapiSpec() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "auditsync",
			"version": "1.0.0",
		},
		"paths": map[string]any{
			"/v1/runs": map[string]any{
				"get":  map[string]any{"summary": "List sync runs, newest first"},
				"post": map[string]any{"summary": "Run a sync for a date range"},
			},
			"/v1/runs/{id}": map[string]any{
				"get": map[string]any{"summary": "Get a sync run with per-tenant results"},
			},
		},
	}
}
