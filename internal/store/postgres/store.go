// Package postgres persists tracked repositories and applied corrections.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linkmend/linkmend/internal/check"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the subset of pgxpool.Pool the store needs; pgxmock satisfies
// it in tests.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	upsertRepoSQL = `
		INSERT INTO repo (repo_url, branch, checked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (repo_url, branch) DO UPDATE SET checked_at = EXCLUDED.checked_at
		RETURNING id;
	`
	insertResultSQL = `
		INSERT INTO check_result (repo_id, file_path, line_number, old_content, new_content)
		VALUES ($1, $2, $3, $4, $5);
	`
)

// Store implements check.ResultStore on Postgres.
type Store struct {
	pool querier
}

// New connects a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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

// NewWithPool constructs a Store from an existing pool (primarily for tests).
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// SaveRun upserts the repository row and bulk-inserts one check_result row
// per fixed link. It returns the repository row ID.
func (s *Store) SaveRun(ctx context.Context, repo check.TrackedRepository, fixes []check.FileChange) (int64, error) {
	var repoID int64
	err := s.pool.QueryRow(ctx, upsertRepoSQL, repo.RepoURL, repo.Branch, repo.CheckedAt).Scan(&repoID)
	if err != nil {
		return 0, fmt.Errorf("upsert repo row: %w", err)
	}
	if len(fixes) == 0 {
		return repoID, nil
	}

	batch := &pgx.Batch{}
	for _, fix := range fixes {
		batch.Queue(insertResultSQL, repoID, fix.FilePath, fix.LineNumber, fix.OldContent, fix.NewContent)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range fixes {
		if _, err := results.Exec(); err != nil {
			return 0, fmt.Errorf("insert check result: %w", err)
		}
	}
	return repoID, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
