// Package postgres mirrors record snapshots into a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/company-profile-scraper/internal/aggregator"
	"github.com/JakeFAU/company-profile-scraper/internal/scrape"
)

const defaultTable = "company_profiles"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for the mirror.
type Config struct {
	DSN             string
	Table           string
	RunID           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Mirror implements aggregator.SnapshotWriter by upserting every record of
// a snapshot keyed by source URL.
type Mirror struct {
	pool  pool
	table string
	runID string
}

// Open connects to Postgres and makes sure the mirror table exists.
func Open(ctx context.Context, cfg Config) (*Mirror, error) {
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
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	m, err := NewWithPool(p, cfg.Table, cfg.RunID)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := m.EnsureTable(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return m, nil
}

// NewWithPool constructs a mirror from an existing pool.
func NewWithPool(p pool, table, runID string) (*Mirror, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Mirror{pool: p, table: table, runID: runID}, nil
}

// Name implements aggregator.SnapshotWriter.
func (m *Mirror) Name() string { return "postgres" }

// EnsureTable creates the mirror table when it is missing.
func (m *Mirror) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	source_url   TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	fields       JSONB NOT NULL,
	logo_path    TEXT,
	snapshot_seq INTEGER NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
)`, m.table)
	if _, err := m.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", m.table, err)
	}
	return nil
}

// WriteSnapshot upserts every record of snap in one transaction. Rewriting
// the whole snapshot keeps the table equal to the latest snapshot's rows.
func (m *Mirror) WriteSnapshot(ctx context.Context, snap aggregator.Snapshot) (err error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (source_url, run_id, fields, logo_path, snapshot_seq, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (source_url) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	fields = EXCLUDED.fields,
	logo_path = EXCLUDED.logo_path,
	snapshot_seq = EXCLUDED.snapshot_seq,
	updated_at = EXCLUDED.updated_at`, m.table)

	for _, rec := range snap.Records {
		fieldsJSON, err := marshalFields(rec.Fields)
		if err != nil {
			return fmt.Errorf("marshal fields for %s: %w", rec.SourceURL, err)
		}
		if _, err := tx.Exec(ctx, query,
			rec.SourceURL,
			m.runID,
			fieldsJSON,
			rec.AssetPath,
			snap.Seq,
			snap.TakenAt,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", rec.SourceURL, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Close releases the pool.
func (m *Mirror) Close() {
	if m == nil || m.pool == nil {
		return
	}
	m.pool.Close()
}

func marshalFields(f scrape.Fields) ([]byte, error) {
	out := make(map[string]string, f.Len())
	for _, key := range f.Keys() {
		v, _ := f.Get(key)
		out[key] = v
	}
	return json.Marshal(out)
}
