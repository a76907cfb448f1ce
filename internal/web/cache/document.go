package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Dialect selects the column types used for the cache table
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// duplicateTableCode is the SQLSTATE Postgres reports for an existing relation
const duplicateTableCode = "42P07"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DocumentStore is a cache backend that keeps entries in a database table
// shared by every application instance. Expired rows are filtered on read
// and removed by a periodic sweep.
type DocumentStore struct {
	db         *sql.DB
	table      string
	dialect    Dialect
	defaultTTL time.Duration
	now        func() time.Time
	logger     *zap.Logger
	indexReady atomic.Bool
	stopChan   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// DocumentConfig holds document store configuration
type DocumentConfig struct {
	// DB is the database connection
	DB *sql.DB

	// Dialect selects column types; defaults to DialectPostgres
	Dialect Dialect

	// Table is the name of the cache table
	Table string

	// DefaultTTL applies when Set is given a non-positive TTL
	DefaultTTL time.Duration

	// SweepInterval is how often expired rows are deleted (0 = never)
	SweepInterval time.Duration

	// Now overrides the clock, mainly for tests
	Now func() time.Time

	// Logger receives sweep and index failures
	Logger *zap.Logger
}

// DefaultDocumentConfig returns default document store configuration
func DefaultDocumentConfig(db *sql.DB) *DocumentConfig {
	return &DocumentConfig{
		DB:            db,
		Dialect:       DialectPostgres,
		Table:         "cache_entries",
		DefaultTTL:    DefaultConfig().DefaultTTL,
		SweepInterval: time.Minute,
		Now:           time.Now,
	}
}

// NewDocumentStore creates the cache table if needed and starts the sweeper
func NewDocumentStore(config *DocumentConfig) (*DocumentStore, error) {
	if config.DB == nil {
		return nil, errors.New("database connection is required")
	}
	if !tableNamePattern.MatchString(config.Table) {
		return nil, fmt.Errorf("invalid cache table name %q", config.Table)
	}

	s := &DocumentStore{
		db:         config.DB,
		table:      config.Table,
		dialect:    config.Dialect,
		defaultTTL: ttlOrDefault(config.DefaultTTL, DefaultConfig().DefaultTTL),
		now:        config.Now,
		logger:     config.Logger,
		stopChan:   make(chan struct{}),
	}
	if s.dialect == "" {
		s.dialect = DialectPostgres
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	if err := s.createTable(); err != nil {
		return nil, fmt.Errorf("failed to create cache table: %w", err)
	}

	if config.SweepInterval > 0 {
		s.wg.Add(1)
		go s.sweepLoop(config.SweepInterval)
	}

	return s, nil
}

// createTable creates the cache table if it doesn't exist
func (s *DocumentStore) createTable() error {
	valueType := "JSONB"
	if s.dialect == DialectSQLite {
		valueType = "TEXT"
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key TEXT PRIMARY KEY,
			value %s NOT NULL,
			expires_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)
	`, s.table, valueType)

	_, err := s.db.Exec(query)
	return err
}

// EnsureIndex creates the expires_at index used by the sweep. It is safe
// to call repeatedly; "already exists" errors are ignored.
func (s *DocumentStore) EnsureIndex(ctx context.Context) error {
	if s.indexReady.Load() {
		return nil
	}

	query := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_expires_at ON %s (expires_at)`,
		s.table, s.table)

	if _, err := s.db.ExecContext(ctx, query); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("failed to create expiry index: %w", err)
	}

	s.indexReady.Store(true)
	return nil
}

// Get retrieves a value that has not yet expired
func (s *DocumentStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1 AND expires_at > $2`, s.table)

	var value string
	err := s.db.QueryRowContext(ctx, query, key, s.now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("database query error: %w", err)
	}

	return json.RawMessage(value), nil
}

// Lookup returns the full entry for key, expired or not
func (s *DocumentStore) Lookup(ctx context.Context, key string) (*Entry, error) {
	query := fmt.Sprintf(`SELECT key, value, expires_at, updated_at FROM %s WHERE key = $1`, s.table)

	var (
		entry     Entry
		value     string
		expiresAt int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&entry.Key, &value, &expiresAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("database query error: %w", err)
	}

	entry.Value = json.RawMessage(value)
	entry.ExpiresAt = time.UnixMilli(expiresAt)
	entry.UpdatedAt = time.UnixMilli(updatedAt)
	return &entry, nil
}

// Set upserts a value; concurrent writers to one key are last-write-wins
func (s *DocumentStore) Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if !json.Valid(value) {
		return fmt.Errorf("cache value for %q is not valid JSON", key)
	}

	now := s.now()
	expiresAt := now.Add(ttlOrDefault(ttl, s.defaultTTL))

	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`, s.table)

	if _, err := s.db.ExecContext(ctx, query, key, string(value), expiresAt.UnixMilli(), now.UnixMilli()); err != nil {
		return fmt.Errorf("database upsert error: %w", err)
	}

	// The entry is written; a missing index only slows the sweep
	if err := s.EnsureIndex(ctx); err != nil {
		s.logger.Warn("cache expiry index unavailable", zap.String("table", s.table), zap.Error(err))
	}
	return nil
}

// Delete removes a value
func (s *DocumentStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)

	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("database delete error: %w", err)
	}
	return nil
}

// Invalidate removes every key matching pattern
func (s *DocumentStore) Invalidate(ctx context.Context, pattern string) (int, error) {
	p, err := CompilePattern(pattern)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`SELECT key FROM %s WHERE key LIKE $1 ESCAPE '\'`, s.table)
	rows, err := s.db.QueryContext(ctx, query, p.Like())
	if err != nil {
		return 0, fmt.Errorf("database query error: %w", err)
	}

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return 0, fmt.Errorf("database scan error: %w", err)
		}
		// LIKE may be case-insensitive; the pattern decides
		if p.Match(key) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("database query error: %w", err)
	}
	rows.Close()

	if len(keys) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()

	removed := 0
	for _, key := range keys {
		res, err := stmt.ExecContext(ctx, key)
		if err != nil {
			return 0, fmt.Errorf("database delete error: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit invalidation: %w", err)
	}
	return removed, nil
}

// Sweep deletes rows whose expiry has passed and returns how many
func (s *DocumentStore) Sweep(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, s.table)

	res, err := s.db.ExecContext(ctx, query, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("database sweep error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// Close stops the sweep goroutine and waits for it to finish.
// The database is managed by the caller and stays open.
func (s *DocumentStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	return nil
}

// sweepLoop periodically removes expired rows
func (s *DocumentStore) sweepLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := s.Sweep(ctx)
			cancel()
			if err != nil {
				s.logger.Warn("cache sweep failed", zap.String("table", s.table), zap.Error(err))
			} else if n > 0 {
				s.logger.Debug("cache sweep removed expired entries",
					zap.String("table", s.table), zap.Int("removed", n))
			}
		}
	}
}

// isAlreadyExists recognises "relation already exists" from pgx, lib/pq
// and SQLite
func isAlreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == duplicateTableCode
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == duplicateTableCode
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
