// Package postgres provides the Postgres-backed crawl store.
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

	"github.com/JakeFAU/tickercrawl/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var recordColumns = []string{"symbol", "date", "open", "high", "low", "close", "volume", "adj_close"}

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	EntitiesTable   string
	RecordsTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store implements crawler.Store on top of a pgx pool.
type Store struct {
	pool     pgxPool
	entities string
	records  string
}

var _ crawler.Store = (*Store)(nil)

// New connects to Postgres and creates the crawl tables if they are absent.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
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
	store, err := NewWithPool(pool, cfg.EntitiesTable, cfg.RecordsTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, entitiesTable, recordsTable string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if entitiesTable == "" {
		entitiesTable = "entities"
	}
	if recordsTable == "" {
		recordsTable = "records"
	}
	for _, name := range []string{entitiesTable, recordsTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &Store{pool: pool, entities: entitiesTable, records: recordsTable}, nil
}

// EnsureSchema creates the entity and record tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	symbol TEXT NOT NULL,
	company TEXT NOT NULL DEFAULT '',
	locator TEXT NOT NULL UNIQUE,
	done BOOLEAN NOT NULL DEFAULT FALSE
)`, s.entities),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	symbol TEXT NOT NULL,
	date TEXT NOT NULL,
	open DOUBLE PRECISION NOT NULL,
	high DOUBLE PRECISION NOT NULL,
	low DOUBLE PRECISION NOT NULL,
	close DOUBLE PRECISION NOT NULL,
	volume DOUBLE PRECISION NOT NULL,
	adj_close DOUBLE PRECISION NOT NULL
)`, s.records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_symbol_date_idx ON %s (symbol, date)`, s.records, s.records),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Put inserts a pending entity; a duplicate locator is ignored.
func (s *Store) Put(ctx context.Context, entity crawler.Entity) error {
	query := fmt.Sprintf(`
INSERT INTO %s (symbol, company, locator, done)
VALUES ($1, $2, $3, FALSE)
ON CONFLICT (locator) DO NOTHING`, s.entities)
	if _, err := s.pool.Exec(ctx, query, entity.Symbol, entity.DisplayName, entity.Locator); err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	return nil
}

// Pending returns entities with done = false in insertion order.
func (s *Store) Pending(ctx context.Context) ([]crawler.Entity, error) {
	query := fmt.Sprintf(`SELECT symbol, company, locator, done FROM %s WHERE done = FALSE ORDER BY id`, s.entities)
	return s.queryEntities(ctx, query)
}

// List returns every entity in insertion order.
func (s *Store) List(ctx context.Context) ([]crawler.Entity, error) {
	query := fmt.Sprintf(`SELECT symbol, company, locator, done FROM %s ORDER BY id`, s.entities)
	return s.queryEntities(ctx, query)
}

func (s *Store) queryEntities(ctx context.Context, query string) ([]crawler.Entity, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []crawler.Entity
	for rows.Next() {
		var e crawler.Entity
		if err := rows.Scan(&e.Symbol, &e.DisplayName, &e.Locator, &e.Done); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// MarkDone sets done = true for locator in a single statement.
func (s *Store) MarkDone(ctx context.Context, locator string) error {
	query := fmt.Sprintf(`UPDATE %s SET done = TRUE WHERE locator = $1`, s.entities)
	tag, err := s.pool.Exec(ctx, query, locator)
	if err != nil {
		return fmt.Errorf("mark entity done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark %q: %w", locator, crawler.ErrNotFound)
	}
	return nil
}

// IsDone reads the completion flag for locator.
func (s *Store) IsDone(ctx context.Context, locator string) (bool, error) {
	query := fmt.Sprintf(`SELECT done FROM %s WHERE locator = $1`, s.entities)
	var done bool
	if err := s.pool.QueryRow(ctx, query, locator).Scan(&done); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("lookup %q: %w", locator, crawler.ErrNotFound)
		}
		return false, fmt.Errorf("lookup entity: %w", err)
	}
	return done, nil
}

// Append validates every row, then copies them in one transaction.
func (s *Store) Append(ctx context.Context, symbol string, rows []crawler.RawRow) (int, error) {
	recs, err := crawler.ParseRows(symbol, rows)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	source := make([][]any, 0, len(recs))
	for _, r := range recs {
		source = append(source, []any{r.Symbol, r.Date, r.Open, r.High, r.Low, r.Close, r.Volume, r.AdjClose})
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{s.records}, recordColumns, pgx.CopyFromRows(source))
	if err != nil {
		return 0, fmt.Errorf("copy records: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return int(n), nil
}

// ForEntity returns all records for symbol ordered by date.
func (s *Store) ForEntity(ctx context.Context, symbol string) ([]crawler.Record, error) {
	query := fmt.Sprintf(`
SELECT symbol, date, open, high, low, close, volume, adj_close
FROM %s
WHERE symbol = $1
ORDER BY date`, s.records)
	return s.queryRecords(ctx, query, symbol)
}

// ForEntityRange returns records for symbol with date BETWEEN start AND end.
func (s *Store) ForEntityRange(ctx context.Context, symbol, start, end string) ([]crawler.Record, error) {
	from, to, err := crawler.ParseRange(start, end)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT symbol, date, open, high, low, close, volume, adj_close
FROM %s
WHERE symbol = $1 AND date BETWEEN $2 AND $3
ORDER BY date`, s.records)
	return s.queryRecords(ctx, query, symbol, from, to)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]crawler.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []crawler.Record
	for rows.Next() {
		var r crawler.Record
		if err := rows.Scan(&r.Symbol, &r.Date, &r.Open, &r.High, &r.Low, &r.Close, &r.Volume, &r.AdjClose); err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// Stats reports entity counts, database size and the number of tables in the schema.
func (s *Store) Stats(ctx context.Context) (crawler.Stats, error) {
	var stats crawler.Stats
	countQuery := fmt.Sprintf(`SELECT COUNT(*), COUNT(*) FILTER (WHERE done) FROM %s`, s.entities)
	if err := s.pool.QueryRow(ctx, countQuery).Scan(&stats.Entities, &stats.Done); err != nil {
		return crawler.Stats{}, fmt.Errorf("count entities: %w", err)
	}
	if err := s.pool.QueryRow(ctx, `SELECT pg_database_size(current_database())`).Scan(&stats.StorageBytes); err != nil {
		return crawler.Stats{}, fmt.Errorf("database size: %w", err)
	}
	tablesQuery := `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema()`
	if err := s.pool.QueryRow(ctx, tablesQuery).Scan(&stats.Tables); err != nil {
		return crawler.Stats{}, fmt.Errorf("count tables: %w", err)
	}
	return stats, nil
}
