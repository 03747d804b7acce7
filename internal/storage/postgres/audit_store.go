// Package postgres records rendered manifests in Postgres for audit.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/due-diligence-crawler/internal/crawler"
	"github.com/JakeFAU/due-diligence-crawler/internal/render"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable holds one row per manifest entry.
const DefaultTable = "manifest_entries"

// AuditStoreConfig controls the Postgres connection pool used for audit rows.
type AuditStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Hasher digests a rendered document.
type Hasher interface {
	HashFile(path string) (string, error)
}

type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// AuditStore writes manifest rows.
type AuditStore struct {
	pool   pool
	table  string
	hasher Hasher
	now    func() time.Time
}

// NewAuditStore connects to Postgres.
func NewAuditStore(ctx context.Context, cfg AuditStoreConfig, hasher Hasher) (*AuditStore, error) {
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewAuditStoreWithPool(p, cfg.Table, hasher)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewAuditStoreWithPool constructs a store from an existing pool.
func NewAuditStoreWithPool(p pool, table string, hasher Hasher) (*AuditStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &AuditStore{pool: p, table: table, hasher: hasher, now: time.Now}, nil
}

// EnsureSchema creates the audit table if it does not exist.
func (s *AuditStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id       TEXT        NOT NULL,
	category     TEXT        NOT NULL,
	scope_dir    TEXT        NOT NULL,
	ordinal      INTEGER     NOT NULL,
	url          TEXT        NOT NULL,
	rendered     BOOLEAN     NOT NULL,
	method       TEXT        NOT NULL,
	attempts     INTEGER     NOT NULL,
	sha256       TEXT,
	error        TEXT,
	success_rate DOUBLE PRECISION NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (job_id, scope_dir, ordinal)
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *AuditStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordScope upserts one row per outcome in a single transaction.
func (s *AuditStore) RecordScope(ctx context.Context, jobID string, scope crawler.ScopeReport, outcomes []render.Outcome) (err error) {
	if s == nil || s.pool == nil {
		return fmt.Errorf("audit store is not configured")
	}
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id, category, scope_dir, ordinal, url, rendered, method, attempts, sha256, error, success_rate, recorded_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (job_id, scope_dir, ordinal) DO UPDATE SET
	rendered = EXCLUDED.rendered,
	attempts = EXCLUDED.attempts,
	sha256 = EXCLUDED.sha256,
	error = EXCLUDED.error,
	success_rate = EXCLUDED.success_rate,
	recorded_at = EXCLUDED.recorded_at`, s.table)

	recordedAt := s.now().UTC()
	for _, o := range outcomes {
		if _, err = tx.Exec(ctx, query,
			jobID,
			scope.Category,
			scope.Dir,
			o.Ordinal,
			o.URL,
			o.Rendered,
			o.Method,
			o.Attempts,
			s.digest(o),
			errText(o.Err),
			scope.SuccessRate,
			recordedAt,
		); err != nil {
			return fmt.Errorf("insert manifest entry %d: %w", o.Ordinal, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *AuditStore) digest(o render.Outcome) *string {
	if !o.Rendered || s.hasher == nil {
		return nil
	}
	sum, err := s.hasher.HashFile(o.Path)
	if err != nil {
		return nil
	}
	return &sum
}

func errText(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
