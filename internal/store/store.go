package store

import (
	"context"
	"time"

	"github.com/meadowrx/dispense-cli/internal/model"
)

// Store defines the durable persistence interface for the dispensing pipeline:
// the shared cache tier and the audit trail.
type Store interface {
	// Cache entries
	GetEntry(ctx context.Context, key string) ([]byte, error)
	SetEntry(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteEntry(ctx context.Context, key string) error
	EntryExists(ctx context.Context, key string) (bool, error)
	DeleteExpiredEntries(ctx context.Context) (int, error)

	// Audit records
	CreateAudit(ctx context.Context, rec model.AuditRecord) error
	UpdateAuditStatus(ctx context.Context, recordID string, status model.AuditStatus) error
	GetAudit(ctx context.Context, recordID string) (*model.AuditRecord, error)
	ListAudits(ctx context.Context, filter model.AuditFilter) ([]model.AuditRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
