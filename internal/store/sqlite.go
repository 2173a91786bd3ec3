package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/meadowrx/dispense-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	cached_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_records (
	id             TEXT PRIMARY KEY,
	calculation_id TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	payload        TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
CREATE INDEX IF NOT EXISTS idx_audit_calculation_id ON audit_records(calculation_id);
CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_records(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_records(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetEntry returns the cached value for key, or nil if absent or expired.
func (s *SQLiteStore) GetEntry(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE key = ? AND expires_at > datetime('now')`,
		key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get entry")
	}
	return value, nil
}

func (s *SQLiteStore) SetEntry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, value, now, now.Add(ttl),
	)
	return eris.Wrap(err, "sqlite: set entry")
}

func (s *SQLiteStore) DeleteEntry(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	return eris.Wrap(err, "sqlite: delete entry")
}

func (s *SQLiteStore) EntryExists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM cache_entries WHERE key = ? AND expires_at > datetime('now')`,
		key,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: entry exists")
	}
	return true, nil
}

func (s *SQLiteStore) DeleteExpiredEntries(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= datetime('now')`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired entries")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CreateAudit(ctx context.Context, rec model.AuditRecord) error {
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal audit payload")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, calculation_id, event_type, status, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CalculationID, string(rec.EventType), string(rec.Status), string(payloadJSON), rec.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert audit record")
}

func (s *SQLiteStore) UpdateAuditStatus(ctx context.Context, recordID string, status model.AuditStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE audit_records SET status = ? WHERE id = ?`,
		string(status), recordID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update audit status %s", recordID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("audit record not found: %s", recordID)
	}
	return nil
}

func (s *SQLiteStore) GetAudit(ctx context.Context, recordID string) (*model.AuditRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, calculation_id, event_type, status, payload, created_at FROM audit_records WHERE id = ?`,
		recordID,
	)
	return scanAudit(row)
}

func (s *SQLiteStore) ListAudits(ctx context.Context, filter model.AuditFilter) ([]model.AuditRecord, error) {
	query := `SELECT id, calculation_id, event_type, status, payload, created_at FROM audit_records WHERE 1=1`
	var args []any

	if filter.CalculationID != "" {
		query += ` AND calculation_id = ?`
		args = append(args, filter.CalculationID)
	}
	if filter.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(filter.EventType))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audits")
	}
	defer rows.Close()

	var records []model.AuditRecord
	for rows.Next() {
		r, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list audits iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanAudit(row scannable) (*model.AuditRecord, error) {
	var r model.AuditRecord
	var payloadJSON sql.NullString

	err := row.Scan(&r.ID, &r.CalculationID, &r.EventType, &r.Status, &payloadJSON, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("audit record not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan audit record")
	}

	if payloadJSON.Valid && payloadJSON.String != "" {
		if err := json.Unmarshal([]byte(payloadJSON.String), &r.Payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal audit payload")
		}
	}
	return &r, nil
}
