package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS answercache_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	getSQL    = `SELECT value FROM answercache_kv WHERE key = $1`
	upsertSQL = `INSERT INTO answercache_kv (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	deleteSQL = `DELETE FROM answercache_kv WHERE key = $1`
	sizeSQL   = `SELECT COALESCE(SUM(OCTET_LENGTH(key) + OCTET_LENGTH(value)), 0) FROM answercache_kv`
)

// Postgres error classes that mean the server cannot take more data
var quotaCodes = map[pq.ErrorCode]bool{
	"53100": true, // disk_full
	"53200": true, // out_of_memory
	"54000": true, // program_limit_exceeded
}

// SQLConfig configures the SQL-backed store
type SQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SQL is a Store persisted in a single Postgres table
type SQL struct {
	db *sqlx.DB
}

// OpenSQL connects to Postgres and ensures the table exists
func OpenSQL(ctx context.Context, cfg SQLConfig) (*SQL, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := NewSQL(db)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an open handle
func NewSQL(db *sqlx.DB) *SQL {
	return &SQL{db: db}
}

// EnsureSchema creates the key-value table when missing
func (s *SQL) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create answercache_kv: %w", err)
	}
	return nil
}

// Get implements Store
func (s *SQL) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, getSQL, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("sql get %s: %w", key, err)
	}
	return value, nil
}

// Set implements Store
func (s *SQL) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, upsertSQL, key, value); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && quotaCodes[pqErr.Code] {
			return ErrQuotaExceeded
		}
		return fmt.Errorf("sql set %s: %w", key, err)
	}
	return nil
}

// Remove implements Store
func (s *SQL) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, deleteSQL, key); err != nil {
		return fmt.Errorf("sql remove %s: %w", key, err)
	}
	return nil
}

// EstimateUsedBytes implements Store
func (s *SQL) EstimateUsedBytes(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.GetContext(ctx, &total, sizeSQL); err != nil {
		return 0, fmt.Errorf("sql size: %w", err)
	}
	return total, nil
}

// Close closes the database handle
func (s *SQL) Close() error {
	return s.db.Close()
}
