package model

import "time"

// EventType identifies the pipeline stage that produced an audit record.
type EventType string

const (
	EventInterpretation  EventType = "interpretation"
	EventStandardization EventType = "standardization"
	EventCatalogSearch   EventType = "catalog_search"
	EventValidation      EventType = "validation"
	EventSelection       EventType = "package_selection"
	EventExport          EventType = "export"
	EventError           EventType = "error"
)

// AuditStatus is the inferred disposition of an audited event.
type AuditStatus string

const (
	AuditStatusApproved AuditStatus = "approved"
	AuditStatusPending  AuditStatus = "pending"
	AuditStatusRejected AuditStatus = "rejected"
)

// AuditRecord is a durably persisted record of one pipeline stage outcome.
type AuditRecord struct {
	ID            string         `json:"id"`
	CalculationID string         `json:"calculation_id"`
	EventType     EventType      `json:"event_type"`
	Status        AuditStatus    `json:"status"`
	Payload       map[string]any `json:"payload,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AuditFilter specifies criteria for listing audit records.
type AuditFilter struct {
	CalculationID string      `json:"calculation_id,omitempty"`
	EventType     EventType   `json:"event_type,omitempty"`
	Status        AuditStatus `json:"status,omitempty"`
	Limit         int         `json:"limit,omitempty"`
	Offset        int         `json:"offset,omitempty"`
}
