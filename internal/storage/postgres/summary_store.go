// Package postgres keeps a queryable copy of crawl summaries in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitecorpus/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultSummaryTable is used when no table is configured.
const DefaultSummaryTable = "crawl_summaries"

// SummaryStoreConfig controls the connection pool used for summary rows.
type SummaryStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// SummaryStore implements crawler.SummaryStore.
type SummaryStore struct {
	pool  execCloser
	table string
}

// NewSummaryStore connects a pool using cfg.
func NewSummaryStore(ctx context.Context, cfg SummaryStoreConfig) (*SummaryStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &SummaryStore{pool: pool, table: table}, nil
}

// NewSummaryStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSummaryStoreWithPool(pool execCloser, table string) (*SummaryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &SummaryStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return DefaultSummaryTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *SummaryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the summary table when it does not exist.
func (s *SummaryStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id       TEXT PRIMARY KEY,
	domain       TEXT NOT NULL,
	start_url    TEXT NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL,
	reason       TEXT NOT NULL,
	pages_total  INTEGER NOT NULL,
	crawl_secs   DOUBLE PRECISION NOT NULL,
	bytes_total  BIGINT NOT NULL,
	chars_total  BIGINT NOT NULL,
	words_total  BIGINT NOT NULL,
	avg_words_pg DOUBLE PRECISION NOT NULL,
	langs        TEXT[] NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StoreSummary upserts the summary row for run.
func (s *SummaryStore) StoreSummary(ctx context.Context, run crawler.RunInfo, summary crawler.Summary) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("summary store is not configured")
	}
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	langs := summary.Langs
	if langs == nil {
		langs = []string{}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	domain,
	start_url,
	finished_at,
	reason,
	pages_total,
	crawl_secs,
	bytes_total,
	chars_total,
	words_total,
	avg_words_pg,
	langs
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (run_id) DO UPDATE SET
	finished_at = EXCLUDED.finished_at,
	reason = EXCLUDED.reason,
	pages_total = EXCLUDED.pages_total,
	crawl_secs = EXCLUDED.crawl_secs,
	bytes_total = EXCLUDED.bytes_total,
	chars_total = EXCLUDED.chars_total,
	words_total = EXCLUDED.words_total,
	avg_words_pg = EXCLUDED.avg_words_pg,
	langs = EXCLUDED.langs`, s.table)

	args := []any{
		run.ID,
		run.Domain,
		run.StartURL,
		run.FinishedAt,
		summary.Reason,
		summary.PagesTotal,
		summary.CrawlSecs,
		summary.BytesTotal,
		summary.CharsTotal,
		summary.WordsTotal,
		summary.AvgWordsPg,
		langs,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert crawl summary: %w", err)
	}
	return nil
}
