package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meadowrx/dispense-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetEntry_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT value FROM cache_entries`).
		WithArgs("interpretation:deadbeef").
		WillReturnError(pgx.ErrNoRows)

	value, err := s.GetEntry(context.Background(), "interpretation:deadbeef")
	require.NoError(t, err)
	assert.Nil(t, value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetEntry_Hit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT value FROM cache_entries`).
		WithArgs("catalog:id:198440").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte(`["pkg"]`)))

	value, err := s.GetEntry(context.Background(), "catalog:id:198440")
	require.NoError(t, err)
	assert.Equal(t, `["pkg"]`, string(value))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetEntry_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("k", []byte("v"), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SetEntry(context.Background(), "k", []byte("v"), time.Hour)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteExpiredEntries(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM cache_entries WHERE expires_at`).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.DeleteExpiredEntries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateAudit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rec := model.AuditRecord{
		ID:            "rec-1",
		CalculationID: "calc-1",
		EventType:     model.EventSelection,
		Status:        model.AuditStatusApproved,
		Payload:       map[string]any{"total_units": 90.0},
		CreatedAt:     time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO audit_records`).
		WithArgs(rec.ID, rec.CalculationID, "package_selection", "approved", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateAudit(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateAuditStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE audit_records SET status`).
		WithArgs("approved", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateAuditStatus(context.Background(), "missing", model.AuditStatusApproved)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListAudits_Filter(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"id", "calculation_id", "event_type", "status", "payload", "created_at"}).
		AddRow("r1", "c1", "validation", "pending", []byte(`{"level":"medium"}`), time.Now().UTC())

	mock.ExpectQuery(`SELECT id, calculation_id, event_type, status, payload, created_at FROM audit_records`).
		WithArgs("c1", 100).
		WillReturnRows(rows)

	records, err := s.ListAudits(context.Background(), model.AuditFilter{CalculationID: "c1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.EventValidation, records[0].EventType)
	assert.Equal(t, "medium", records[0].Payload["level"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
