package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/isdelr/bookshelf-be/internal/apperror"
	"github.com/isdelr/bookshelf-be/internal/auth"
	"github.com/isdelr/bookshelf-be/internal/models"
	"github.com/isdelr/bookshelf-be/internal/repository"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// UserServiceProvider defines the interface for user services.
type UserServiceProvider interface {
	CreateUser(ctx context.Context, in CreateUserInput) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context, q ListQuery) (*models.UserList, error)
	UpdateUser(ctx context.Context, id string, in UpdateUserInput) (*models.User, error)
	DeleteUser(ctx context.Context, id string) (string, error)
}

// UserService provides business logic for user management.
type UserService struct {
	repo   repository.UserRepository
	hasher *auth.PasswordHasher
	events EventServiceProvider
}

// NewUserService creates a new UserService. events may be nil.
func NewUserService(repo repository.UserRepository, hasher *auth.PasswordHasher, events EventServiceProvider) *UserService {
	return &UserService{repo: repo, hasher: hasher, events: events}
}

// CreateUser validates and stores a new account.
func (s *UserService) CreateUser(ctx context.Context, in CreateUserInput) (*models.User, error) {
	user, err := s.create(ctx, in)
	if err != nil {
		return nil, err
	}
	recordEvent(ctx, s.events, models.EventUserCreated, LevelInfo, fmt.Sprintf("User '%s' created", user.Username), &user.ID)
	return user, nil
}

func (s *UserService) create(ctx context.Context, in CreateUserInput) (*models.User, error) {
	in.normalize()
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	if err := s.ensureAvailable(ctx, "", &in.Username, &in.Email); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, apperror.Internal("hash password", err)
	}

	user, err := s.repo.Create(ctx, models.NewUser{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Bio:          in.Bio,
	})
	if err != nil {
		return nil, mapWriteError("create user", err)
	}
	return user, nil
}

// GetUser retrieves a single user by their ID.
func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.Internal("get user", err)
	}
	if user == nil {
		return nil, apperror.NotFound("user not found")
	}
	return user, nil
}

// ListUsers returns one page of users matching the search term.
func (s *UserService) ListUsers(ctx context.Context, q ListQuery) (*models.UserList, error) {
	switch {
	case q.Limit < 0:
		return nil, apperror.Validation("limit must not be negative")
	case q.Offset < 0:
		return nil, apperror.Validation("offset must not be negative")
	case q.Page < 0:
		return nil, apperror.Validation("page must be greater than zero")
	}

	limit := q.Limit
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := q.Offset
	if q.Page > 0 {
		if q.Page-1 > math.MaxInt/limit {
			return nil, apperror.Validation("page out of range")
		}
		offset = (q.Page - 1) * limit
	}
	search := strings.TrimSpace(q.Search)

	total, err := s.repo.Count(ctx, search)
	if err != nil {
		return nil, apperror.Internal("count users", err)
	}
	users, err := s.repo.List(ctx, search, limit, offset)
	if err != nil {
		return nil, apperror.Internal("list users", err)
	}
	return &models.UserList{Users: users, TotalCount: total, Limit: limit, Offset: offset}, nil
}

// UpdateUser applies a partial update. Changing the password requires the
// current password.
func (s *UserService) UpdateUser(ctx context.Context, id string, in UpdateUserInput) (*models.User, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	in.normalize()
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.Internal("get user", err)
	}
	if existing == nil {
		return nil, apperror.NotFound("user not found")
	}

	update := models.UserUpdate{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Bio:       in.Bio,
	}
	if in.Username != nil && *in.Username != existing.Username {
		update.Username = in.Username
	}
	if in.Email != nil && *in.Email != existing.Email {
		update.Email = in.Email
	}
	if err := s.ensureAvailable(ctx, existing.ID, update.Username, update.Email); err != nil {
		return nil, err
	}

	if in.Password != nil {
		if in.OldPassword == nil || *in.OldPassword == "" {
			return nil, apperror.Validation("old_password is required to change the password")
		}
		creds, err := s.repo.GetCredentials(ctx, existing.Username)
		if err != nil {
			return nil, apperror.Internal("load credentials", err)
		}
		if creds == nil {
			return nil, apperror.NotFound("user not found")
		}
		ok, err := s.hasher.Verify(creds.PasswordHash, *in.OldPassword)
		if err != nil {
			return nil, apperror.Internal("verify password", err)
		}
		if !ok {
			return nil, apperror.Validation("old_password is incorrect")
		}
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, apperror.Internal("hash password", err)
		}
		update.PasswordHash = &hash
	}
	if update.Empty() {
		return existing, nil
	}

	user, err := s.repo.Update(ctx, id, update)
	if err != nil {
		return nil, mapWriteError("update user", err)
	}
	if user == nil {
		return nil, apperror.NotFound("user not found")
	}
	recordEvent(ctx, s.events, models.EventUserUpdated, LevelInfo, fmt.Sprintf("User '%s' updated", user.Username), &user.ID)
	return user, nil
}

// DeleteUser removes a user and returns the deleted id.
func (s *UserService) DeleteUser(ctx context.Context, id string) (string, error) {
	if err := validateID(id); err != nil {
		return "", err
	}
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return "", apperror.Internal("delete user", err)
	}
	if !deleted {
		return "", apperror.NotFound("user not found")
	}
	recordEvent(ctx, s.events, models.EventUserDeleted, LevelInfo, fmt.Sprintf("User %s deleted", id), &id)
	return id, nil
}

// ensureAvailable rejects a username or email already used by another account.
// selfID is skipped so a user may keep their own values.
func (s *UserService) ensureAvailable(ctx context.Context, selfID string, username, email *string) error {
	if username != nil {
		other, err := s.repo.GetByUsername(ctx, *username)
		if err != nil {
			return apperror.Internal("check username", err)
		}
		if other != nil && other.ID != selfID {
			return apperror.Conflict("username already taken")
		}
	}
	if email != nil {
		other, err := s.repo.GetByEmail(ctx, *email)
		if err != nil {
			return apperror.Internal("check email", err)
		}
		if other != nil && other.ID != selfID {
			return apperror.Conflict("email already taken")
		}
	}
	return nil
}

func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperror.Validation("wrong id format")
	}
	return nil
}

// mapWriteError turns a store write failure into an application error.
// Unique violations that slipped past ensureAvailable become conflicts.
func mapWriteError(op string, err error) error {
	var conflict *repository.ConflictError
	if errors.As(err, &conflict) {
		if conflict.Field != "" {
			return apperror.Conflict(conflict.Field + " already taken")
		}
		return apperror.Conflict("username or email already taken")
	}
	return apperror.Internal(op, err)
}
