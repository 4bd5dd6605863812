// Package postgres provides Postgres-backed crawl state and success log
// persistence for multi-node or externally-inspected deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"magharvest/internal/forum"
	"magharvest/internal/storage"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements storage.StateStore and storage.SuccessLog on Postgres.
type Store struct {
	pool pgxPool
}

// New connects a pool from the config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("state dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS crawl_state (
	section_id TEXT PRIMARY KEY,
	watermark  TEXT NOT NULL DEFAULT '',
	last_page  INT  NOT NULL DEFAULT 0,
	known_ids  TEXT[] NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE TABLE IF NOT EXISTS submit_success (
	key          TEXT PRIMARY KEY,
	submitted_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SectionState loads one section's crawl state. Absent sections return the
// zero value, not an error.
func (s *Store) SectionState(ctx context.Context, sectionID string) (storage.SectionState, error) {
	var (
		watermark string
		lastPage  int
		known     []string
	)
	row := s.pool.QueryRow(ctx,
		`SELECT watermark, last_page, known_ids FROM crawl_state WHERE section_id = $1`,
		sectionID,
	)
	if err := row.Scan(&watermark, &lastPage, &known); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.SectionState{}, nil
		}
		return storage.SectionState{}, fmt.Errorf("select crawl state: %w", err)
	}
	ids := make([]forum.ThreadID, 0, len(known))
	for _, k := range known {
		ids = append(ids, forum.ThreadID(k))
	}
	return storage.SectionState{
		Watermark: forum.Watermark(watermark),
		LastPage:  lastPage,
		KnownIDs:  ids,
	}, nil
}

// PutSectionState upserts one section's crawl state.
func (s *Store) PutSectionState(ctx context.Context, sectionID string, st storage.SectionState) error {
	known := make([]string, 0, len(st.KnownIDs))
	for _, id := range st.KnownIDs {
		known = append(known, string(id))
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO crawl_state (section_id, watermark, last_page, known_ids, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (section_id) DO UPDATE SET
	watermark = EXCLUDED.watermark,
	last_page = EXCLUDED.last_page,
	known_ids = EXCLUDED.known_ids,
	updated_at = now()`,
		sectionID, string(st.Watermark), st.LastPage, known,
	)
	if err != nil {
		return fmt.Errorf("upsert crawl state: %w", err)
	}
	return nil
}

// Append records one submitted key. Duplicate keys are ignored so re-running
// a batch is idempotent.
func (s *Store) Append(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("success log key is empty")
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO submit_success (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`,
		key,
	); err != nil {
		return fmt.Errorf("insert submit success: %w", err)
	}
	return nil
}

// All returns every submitted key.
func (s *Store) All(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key FROM submit_success`)
	if err != nil {
		return nil, fmt.Errorf("select submit success: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan submit success: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submit success: %w", err)
	}
	return keys, nil
}
