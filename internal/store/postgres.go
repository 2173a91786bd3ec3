package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/meadowrx/dispense-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it,
// so unit tests can run without a real database.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_records (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	calculation_id TEXT NOT NULL,
	event_type     TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	payload        JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at);
CREATE INDEX IF NOT EXISTS idx_audit_calculation_id ON audit_records(calculation_id);
CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_records(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_records(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM cache_entries WHERE key = $1 AND expires_at > now()`,
		key,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get entry")
	}
	return value, nil
}

func (s *PostgresStore) SetEntry(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cache_entries (key, value, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET value = $2, cached_at = $3, expires_at = $4`,
		key, value, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set entry")
}

func (s *PostgresStore) DeleteEntry(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = $1`, key)
	return eris.Wrap(err, "postgres: delete entry")
}

func (s *PostgresStore) EntryExists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM cache_entries WHERE key = $1 AND expires_at > now()`,
		key,
	).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, eris.Wrap(err, "postgres: entry exists")
	}
	return true, nil
}

func (s *PostgresStore) DeleteExpiredEntries(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired entries")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CreateAudit(ctx context.Context, rec model.AuditRecord) error {
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal audit payload")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_records (id, calculation_id, event_type, status, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.CalculationID, string(rec.EventType), string(rec.Status), payloadJSON, rec.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert audit record")
}

func (s *PostgresStore) UpdateAuditStatus(ctx context.Context, recordID string, status model.AuditStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE audit_records SET status = $1 WHERE id = $2`,
		string(status), recordID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update audit status %s", recordID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("audit record not found: %s", recordID)
	}
	return nil
}

func (s *PostgresStore) GetAudit(ctx context.Context, recordID string) (*model.AuditRecord, error) {
	var r model.AuditRecord
	var payloadJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, calculation_id, event_type, status, payload, created_at FROM audit_records WHERE id = $1`,
		recordID,
	).Scan(&r.ID, &r.CalculationID, &r.EventType, &r.Status, &payloadJSON, &r.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get audit %s", recordID)
	}

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &r.Payload); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal audit payload")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListAudits(ctx context.Context, filter model.AuditFilter) ([]model.AuditRecord, error) {
	query := `SELECT id, calculation_id, event_type, status, payload, created_at FROM audit_records WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CalculationID != "" {
		query += fmt.Sprintf(` AND calculation_id = $%d`, argIdx)
		args = append(args, filter.CalculationID)
		argIdx++
	}
	if filter.EventType != "" {
		query += fmt.Sprintf(` AND event_type = $%d`, argIdx)
		args = append(args, string(filter.EventType))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audits")
	}
	defer rows.Close()

	var records []model.AuditRecord
	for rows.Next() {
		var r model.AuditRecord
		var payloadJSON []byte
		if err := rows.Scan(&r.ID, &r.CalculationID, &r.EventType, &r.Status, &payloadJSON, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit record")
		}
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &r.Payload); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal audit payload")
			}
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list audits iterate")
}
