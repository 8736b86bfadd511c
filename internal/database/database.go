package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect identifies the SQL flavour behind a DB handle.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// unicodeLower is registered on every SQLite connection. The built-in LOWER
// only folds ASCII letters.
const unicodeLower = "ulower"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(unicodeLower, 1, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		switch v := args[0].(type) {
		case nil:
			return nil, nil
		case string:
			return strings.ToLower(v), nil
		case []byte:
			return strings.ToLower(string(v)), nil
		default:
			return v, nil
		}
	})
}

// DefaultMaxConns bounds the pool when the caller passes zero.
const DefaultMaxConns = 8

// DB is a pooled database handle that knows its dialect.
type DB struct {
	*sql.DB
	dialect Dialect
}

// New opens a connection pool. A postgres:// or postgresql:// URL selects
// PostgreSQL; anything else is treated as a SQLite file path.
func New(dataSourceName string, maxConns int) (*DB, error) {
	dsn := strings.TrimSpace(dataSourceName)
	if dsn == "" {
		return nil, errors.New("database url is required")
	}
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}

	var (
		driver  string
		dialect Dialect
	)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		driver, dialect = "pgx", Postgres
	default:
		driver, dialect = "sqlite", SQLite
		dsn = sqliteDSN(dsn)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}
	return &DB{DB: sqlDB, dialect: dialect}, nil
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") || strings.Contains(path, "?") {
		return path
	}
	return filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Dialect returns the SQL flavour of the pool.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Lower wraps expr in the dialect's case-folding function. Both dialects
// fold the full Unicode range, matching strings.ToLower.
func (db *DB) Lower(expr string) string {
	if db.dialect == Postgres {
		return "LOWER(" + expr + ")"
	}
	return unicodeLower + "(" + expr + ")"
}

// Rebind rewrites ? placeholders into the dialect's bind syntax.
func (db *DB) Rebind(query string) string {
	if db.dialect != Postgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var (
		b       strings.Builder
		n       int
		inQuote bool
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		first_name TEXT,
		last_name TEXT,
		bio TEXT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_users_created_at ON users (created_at)`,
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT NOT NULL PRIMARY KEY,
		type TEXT NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		user_id TEXT,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_created_at ON events (created_at)`,
}

// Migrate runs the SQL statements to set up the database schema.
func Migrate(ctx context.Context, db *DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// UniqueViolation reports whether err is a unique constraint failure and, when
// it can tell, which column caused it.
func UniqueViolation(err error) (column string, ok bool) {
	if err == nil {
		return "", false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != "23505" {
			return "", false
		}
		return columnFromConstraint(pgErr.ConstraintName + " " + pgErr.Detail), true
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return columnFromConstraint(sqliteErr.Error()), true
		case sqlite3.SQLITE_CONSTRAINT:
			if strings.Contains(strings.ToLower(sqliteErr.Error()), "unique constraint failed") {
				return columnFromConstraint(sqliteErr.Error()), true
			}
		}
		return "", false
	}

	message := strings.ToLower(err.Error())
	if strings.Contains(message, "unique constraint failed") {
		return columnFromConstraint(message), true
	}
	return "", false
}

// columnFromConstraint extracts a users column name from a constraint message
// such as "UNIQUE constraint failed: users.email" or "users_email_key".
func columnFromConstraint(message string) string {
	message = strings.ToLower(message)
	for _, column := range []string{"username", "email", "id"} {
		if strings.Contains(message, "."+column) || strings.Contains(message, "_"+column+"_") || strings.Contains(message, "("+column+")") {
			return column
		}
	}
	return ""
}

// ToMillis normalizes timestamps into millisecond precision for storage.
func ToMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// FromMillis restores millisecond precision and keeps UTC normalization.
func FromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
