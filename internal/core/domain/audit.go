package domain

import "time"

type TenantStatus string

const (
	TenantOK     TenantStatus = "ok"
	TenantEmpty  TenantStatus = "empty"
	TenantFailed TenantStatus = "failed"
)

type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunNoData    RunStatus = "no_data"
	RunFailed    RunStatus = "failed"
)

// TenantResult is the outcome of fetching one tenant's activity log.
type TenantResult struct {
	Position int          `json:"position"`
	ClientID string       `json:"client_id"`
	Domain   string       `json:"domain,omitempty"`
	Status   TenantStatus `json:"status"`
	Records  int          `json:"records"`
	Error    string       `json:"error,omitempty"`
}

// RunReport collects every tenant result of one sync run.
type RunReport struct {
	ID           string         `json:"id"`
	StartDate    string         `json:"start_date"`
	EndDate      string         `json:"end_date"`
	Status       RunStatus      `json:"status"`
	DatasetID    string         `json:"dataset_id,omitempty"`
	OutputPath   string         `json:"output_path,omitempty"`
	TotalRecords int            `json:"total_records"`
	Error        string         `json:"error,omitempty"`
	Tenants      []TenantResult `json:"tenants"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
}

func (r RunReport) Failed() []TenantResult {
	var out []TenantResult
	for _, t := range r.Tenants {
		if t.Status == TenantFailed {
			out = append(out, t)
		}
	}
	return out
}
