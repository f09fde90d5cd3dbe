package domain

import (
	"encoding/json"
	"time"
)

const CurrentEventSchemaVersion = 1

// RunEvent is the envelope published when a sync run finishes.
type RunEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	SchemaVersion int       `json:"schema_version"`
	OccurredAt    time.Time `json:"occurred_at"`
	Run           RunReport `json:"run"`
}

func RunEventType(status RunStatus) string {
	return "sync.run." + string(status)
}

func NewRunEvent(id string, report RunReport) RunEvent {
	return RunEvent{
		EventID:       id,
		EventType:     RunEventType(report.Status),
		SchemaVersion: CurrentEventSchemaVersion,
		OccurredAt:    report.FinishedAt.UTC(),
		Run:           report,
	}
}

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxDispatched OutboxStatus = "dispatched"
	OutboxDead       OutboxStatus = "dead"
)

// OutboxEvent is a RunEvent waiting for delivery, stored alongside its run.
type OutboxEvent struct {
	ID            int64
	EventID       string
	RunID         string
	Topic         string
	PayloadJSON   json.RawMessage
	Status        OutboxStatus
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
}
