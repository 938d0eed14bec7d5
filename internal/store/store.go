// Package store is the read side of the relational store that the ETL jobs
// load regulatory data into. It exposes per-source raw rows keyed by entity
// identifier plus the reference data the risk core consumes (entities,
// credit state, corporate structure, filing disclosures, snapshot metadata).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/seenimoa/gamecock/internal/logging"
	"github.com/seenimoa/gamecock/pkg/models"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options configures Open.
type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

// DB wraps a *sql.DB with dialect handling and a default query timeout.
type DB struct {
	db           *sql.DB
	driver       string
	queryTimeout time.Duration
	log          *slog.Logger
}

// Open connects to the store and verifies the connection.
func Open(ctx context.Context, opts Options) (*DB, error) {
	switch opts.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", opts.Driver)
	}
	sqlDB, err := sql.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	d := New(sqlDB, opts.Driver, opts.QueryTimeout)
	d.log = logging.OrDiscard(opts.Logger)

	pingCtx, cancel := d.withTimeout(ctx)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return d, nil
}

// New wraps an existing connection pool. Used directly by tests with sqlmock.
func New(db *sql.DB, driver string, queryTimeout time.Duration) *DB {
	if queryTimeout <= 0 {
		queryTimeout = 15 * time.Second
	}
	return &DB{db: db, driver: driver, queryTimeout: queryTimeout, log: logging.Discard()}
}

// Close closes the underlying pool.
func (d *DB) Close() error { return d.db.Close() }

// SQL exposes the underlying pool.
func (d *DB) SQL() *sql.DB { return d.db }

// Driver returns the dialect name.
func (d *DB) Driver() string { return d.driver }

// Ping checks connectivity.
func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return d.db.PingContext(ctx)
}

// Rebind rewrites '?' placeholders into the driver's bind syntax.
func (d *DB) Rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.queryTimeout)
}

// placeholders returns "?, ?, ?" for n values.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// --- Errors ---

// SourceUnavailableError reports that a regulatory source could not be
// queried. An empty result is never reported this way.
type SourceUnavailableError struct {
	Source models.SourceKind
	At     time.Time
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// IsSourceUnavailable reports whether err is, or wraps, a SourceUnavailableError.
func IsSourceUnavailable(err error) bool {
	var su *SourceUnavailableError
	return errors.As(err, &su)
}

func unavailable(kind models.SourceKind, err error) error {
	return &SourceUnavailableError{Source: kind, At: time.Now().UTC(), Err: err}
}
