// Package database opens the SQL connection that backs the document cache.
//
// The driver is chosen by URL scheme:
//
//	postgres://, postgresql://  pgx (github.com/jackc/pgx/v5/stdlib)
//	pq://                       lib/pq
//	sqlite://, file:            go-sqlite3
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrUnsupportedURL is returned for URLs no registered driver can open
var ErrUnsupportedURL = errors.New("unsupported database url")

// Target is a database URL resolved to a driver
type Target struct {
	// Driver is the database/sql driver name
	Driver string
	// DSN is the data source name handed to the driver
	DSN string
	// SQLite is true for go-sqlite3 targets
	SQLite bool
}

// PoolConfig holds connection pool configuration
type PoolConfig struct {
	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections in the pool
	MaxIdleConns int

	// ConnMaxLifetime is the maximum amount of time a connection may be reused
	ConnMaxLifetime time.Duration

	// ConnMaxIdleTime is the maximum amount of time a connection may be idle
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns connection pool settings sized for a cache table
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Parse resolves url to a driver and DSN
func Parse(url string) (Target, error) {
	switch {
	case url == "":
		return Target{}, fmt.Errorf("%w: empty", ErrUnsupportedURL)
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return Target{Driver: "pgx", DSN: url}, nil
	case strings.HasPrefix(url, "pq://"):
		return Target{Driver: "postgres", DSN: "postgres://" + strings.TrimPrefix(url, "pq://")}, nil
	case strings.HasPrefix(url, "sqlite://"):
		return Target{Driver: "sqlite3", DSN: strings.TrimPrefix(url, "sqlite://"), SQLite: true}, nil
	case strings.HasPrefix(url, "file:"):
		return Target{Driver: "sqlite3", DSN: url, SQLite: true}, nil
	default:
		scheme := url
		if i := strings.Index(url, ":"); i >= 0 {
			scheme = url[:i]
		}
		return Target{}, fmt.Errorf("%w: scheme %q", ErrUnsupportedURL, scheme)
	}
}

// Open opens and pings the database at url
func Open(ctx context.Context, url string, pool PoolConfig) (*sql.DB, Target, error) {
	target, err := Parse(url)
	if err != nil {
		return nil, Target{}, err
	}

	db, err := sql.Open(target.Driver, target.DSN)
	if err != nil {
		return nil, Target{}, fmt.Errorf("failed to open %s database: %w", target.Driver, err)
	}

	configurePool(db, target, pool)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, Target{}, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, target, nil
}

// configurePool applies pool settings. SQLite is limited to one connection
// so in-memory databases are shared and writers don't contend for the lock.
func configurePool(db *sql.DB, target Target, pool PoolConfig) {
	if target.SQLite {
		db.SetMaxOpenConns(1)
		return
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
}
