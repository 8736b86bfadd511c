package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "bookshelf.db"), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New("  ", 0)
	require.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Migrate(ctx, db))

	for _, table := range []string{"users", "events"} {
		var name string
		err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s", table)
	}
	assert.Equal(t, SQLite, db.Dialect())
}

func TestLower(t *testing.T) {
	assert.Equal(t, "LOWER(username)", (&DB{dialect: Postgres}).Lower("username"))

	db := openTestDB(t)
	var folded string
	err := db.QueryRowContext(context.Background(), "SELECT "+db.Lower("?"), "ÖDÖN Éva ALICE").Scan(&folded)
	require.NoError(t, err)
	assert.Equal(t, "ödön éva alice", folded)

	var null *string
	require.NoError(t, db.QueryRowContext(context.Background(), "SELECT "+db.Lower("NULL")).Scan(&null))
	assert.Nil(t, null)
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: Postgres}
	lite := &DB{dialect: SQLite}

	query := `SELECT id FROM users WHERE username = ? AND bio LIKE '%?%' AND email = ?`

	assert.Equal(t, query, lite.Rebind(query))
	assert.Equal(t, `SELECT id FROM users WHERE username = $1 AND bio LIKE '%?%' AND email = $2`, pg.Rebind(query))
}

func TestUniqueViolationSQLite(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, Migrate(ctx, db))

	insert := `INSERT INTO users (id, username, email, password_hash, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, insert, "1", "alice", "alice@example.com", "hash", ToMillis(time.Now()))
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, insert, "2", "alice", "other@example.com", "hash", ToMillis(time.Now()))
	column, ok := UniqueViolation(err)
	assert.True(t, ok)
	assert.Equal(t, "username", column)

	_, err = db.ExecContext(ctx, insert, "3", "bob", "alice@example.com", "hash", ToMillis(time.Now()))
	column, ok = UniqueViolation(err)
	assert.True(t, ok)
	assert.Equal(t, "email", column)
}

func TestUniqueViolationPostgres(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
	column, ok := UniqueViolation(err)
	assert.True(t, ok)
	assert.Equal(t, "email", column)

	_, ok = UniqueViolation(&pgconn.PgError{Code: "23503"})
	assert.False(t, ok)

	_, ok = UniqueViolation(errors.New("connection reset"))
	assert.False(t, ok)

	_, ok = UniqueViolation(nil)
	assert.False(t, ok)
}

func TestMillisRoundTrip(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 30, 45, 123456789, time.FixedZone("X", 3600))
	got := FromMillis(ToMillis(now))
	assert.True(t, got.Equal(now.Truncate(time.Millisecond)))
	assert.Equal(t, time.UTC, got.Location())
}
