package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/bookshelf-be/internal/database"
	"github.com/isdelr/bookshelf-be/internal/models"
)

// ErrConflict is returned when a write would break username or email uniqueness.
var ErrConflict = errors.New("unique constraint violation")

// ConflictError names the column that collided.
type ConflictError struct {
	Field string
	Err   error
}

func (e *ConflictError) Error() string {
	if e.Field == "" {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("%s: %s already taken", ErrConflict, e.Field)
}

func (e *ConflictError) Unwrap() []error { return []error{ErrConflict, e.Err} }

// UserRepository defines persistence operations for the users table.
// Lookups return (nil, nil) when no row matches.
type UserRepository interface {
	Create(ctx context.Context, user models.NewUser) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetCredentials(ctx context.Context, login string) (*models.User, error)
	Update(ctx context.Context, id string, update models.UserUpdate) (*models.User, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, search string, limit, offset int) ([]models.User, error)
	Count(ctx context.Context, search string) (int64, error)
}

const userColumns = `id, username, email, first_name, last_name, bio, created_at`

var searchColumns = []string{"username", "email", "first_name", "last_name", "bio"}

type userRepository struct {
	db  *database.DB
	now func() time.Time
}

// NewUserRepository builds a SQL-backed repository on the given pool.
func NewUserRepository(db *database.DB) UserRepository {
	return &userRepository{db: db, now: time.Now}
}

// NewUserRepositoryWithClock is NewUserRepository with an injectable clock for created_at.
func NewUserRepositoryWithClock(db *database.DB, now func() time.Time) UserRepository {
	return &userRepository{db: db, now: now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, withHash bool) (*models.User, error) {
	var (
		user      models.User
		firstName sql.NullString
		lastName  sql.NullString
		bio       sql.NullString
		createdAt int64
	)
	dest := []any{&user.ID, &user.Username, &user.Email, &firstName, &lastName, &bio, &createdAt}
	if withHash {
		dest = append(dest, &user.PasswordHash)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	user.FirstName = fromNullString(firstName)
	user.LastName = fromNullString(lastName)
	user.Bio = fromNullString(bio)
	user.CreatedAt = database.FromMillis(createdAt)
	return &user, nil
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// toNullable converts an optional field into a driver argument.
func toNullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func wrapWriteError(op string, err error) error {
	if column, ok := database.UniqueViolation(err); ok {
		return &ConflictError{Field: column, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Create inserts a user row. The id and created_at are assigned here.
func (r *userRepository) Create(ctx context.Context, in models.NewUser) (*models.User, error) {
	user := models.User{
		ID:        uuid.New().String(),
		Username:  in.Username,
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Bio:       in.Bio,
		CreatedAt: database.FromMillis(database.ToMillis(r.now())),
	}

	query := r.db.Rebind(`INSERT INTO users (id, username, email, password_hash, first_name, last_name, bio, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Username, user.Email, in.PasswordHash,
		toNullable(in.FirstName), toNullable(in.LastName), toNullable(in.Bio),
		database.ToMillis(user.CreatedAt),
	)
	if err != nil {
		return nil, wrapWriteError("insert user", err)
	}
	return &user, nil
}

func (r *userRepository) getOne(ctx context.Context, where string, arg any) (*models.User, error) {
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE ` + where)
	user, err := scanUser(r.db.QueryRowContext(ctx, query, arg), false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a single user by their ID.
func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.getOne(ctx, "id = ?", id)
}

// GetByUsername retrieves a single user by their username.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, "username = ?", username)
}

// GetByEmail retrieves a single user by their email.
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "email = ?", email)
}

// GetCredentials retrieves a user by username or email, including the password hash.
func (r *userRepository) GetCredentials(ctx context.Context, login string) (*models.User, error) {
	query := r.db.Rebind(`SELECT ` + userColumns + `, password_hash FROM users WHERE username = ? OR email = ? LIMIT 1`)
	user, err := scanUser(r.db.QueryRowContext(ctx, query, login, login), true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select credentials: %w", err)
	}
	return user, nil
}

// Update applies the non-nil fields of update and returns the stored row.
func (r *userRepository) Update(ctx context.Context, id string, update models.UserUpdate) (*models.User, error) {
	query := r.db.Rebind(`UPDATE users SET
			username = COALESCE(?, username),
			email = COALESCE(?, email),
			password_hash = COALESCE(?, password_hash),
			first_name = COALESCE(?, first_name),
			last_name = COALESCE(?, last_name),
			bio = COALESCE(?, bio)
		WHERE id = ?
		RETURNING ` + userColumns)
	row := r.db.QueryRowContext(ctx, query,
		toNullable(update.Username),
		toNullable(update.Email),
		toNullable(update.PasswordHash),
		toNullable(update.FirstName),
		toNullable(update.LastName),
		toNullable(update.Bio),
		id,
	)
	user, err := scanUser(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapWriteError("update user", err)
	}
	return user, nil
}

// Delete removes a user and reports whether a row existed.
func (r *userRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	return n > 0, nil
}

// List returns users matching search, newest first. limit <= 0 means no limit.
func (r *userRepository) List(ctx context.Context, search string, limit, offset int) ([]models.User, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	if offset < 0 {
		offset = 0
	}

	where, args := r.searchClause(search)
	query := r.db.Rebind(`SELECT ` + userColumns + ` FROM users` + where +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows, false)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// Count returns how many users match search.
func (r *userRepository) Count(ctx context.Context, search string) (int64, error) {
	where, args := r.searchClause(search)
	var total int64
	err := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT COUNT(*) FROM users`+where), args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return total, nil
}

// searchClause builds a case-insensitive substring filter across the
// searchable columns. An empty term matches every row.
func (r *userRepository) searchClause(search string) (string, []any) {
	search = strings.TrimSpace(search)
	if search == "" {
		return "", nil
	}
	pattern := "%" + escapeLike(strings.ToLower(search)) + "%"

	conds := make([]string, 0, len(searchColumns))
	args := make([]any, 0, len(searchColumns))
	for _, column := range searchColumns {
		conds = append(conds, r.db.Lower(column)+` LIKE ? ESCAPE '\'`)
		args = append(args, pattern)
	}
	return " WHERE (" + strings.Join(conds, " OR ") + ")", args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
