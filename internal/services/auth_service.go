package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/isdelr/bookshelf-be/internal/apperror"
	"github.com/isdelr/bookshelf-be/internal/auth"
	"github.com/isdelr/bookshelf-be/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrRevocationDisabled is returned by SignOut when no revocation store is configured.
var ErrRevocationDisabled = errors.New("token revocation is not configured")

// AuthResult is returned by sign-up and sign-in.
type AuthResult struct {
	User      models.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// AuthServiceProvider defines the interface for authentication services.
type AuthServiceProvider interface {
	SignUp(ctx context.Context, in CreateUserInput) (*AuthResult, error)
	SignIn(ctx context.Context, in SignInInput) (*AuthResult, error)
	SignOut(ctx context.Context, claims *auth.Claims) error
	RevocationEnabled() bool
}

// AuthService signs users up and in and issues session tokens.
type AuthService struct {
	users   *UserService
	tokens  *auth.TokenManager
	revoker auth.Revoker
	events  EventServiceProvider
	now     func() time.Time
}

// NewAuthService creates a new AuthService. revoker and events may be nil.
func NewAuthService(users *UserService, tokens *auth.TokenManager, revoker auth.Revoker, events EventServiceProvider) *AuthService {
	return &AuthService{users: users, tokens: tokens, revoker: revoker, events: events, now: time.Now}
}

// SignUp creates an account and returns it with a fresh token.
func (s *AuthService) SignUp(ctx context.Context, in CreateUserInput) (*AuthResult, error) {
	user, err := s.users.create(ctx, in)
	if err != nil {
		return nil, err
	}
	result, err := s.issue(*user)
	if err != nil {
		return nil, err
	}
	recordEvent(ctx, s.events, models.EventUserSignup, LevelInfo, fmt.Sprintf("User '%s' signed up", user.Username), &user.ID)
	return result, nil
}

// SignIn verifies credentials. Unknown logins and wrong passwords produce the
// same error.
func (s *AuthService) SignIn(ctx context.Context, in SignInInput) (*AuthResult, error) {
	login := in.Identifier()
	if login == "" || in.Password == "" {
		return nil, apperror.Validation("login and password are required")
	}

	creds, err := s.users.repo.GetCredentials(ctx, login)
	if err != nil {
		return nil, apperror.Internal("load credentials", err)
	}
	if creds == nil {
		s.users.hasher.VerifyDummy(in.Password)
		return nil, s.rejectSignIn(ctx)
	}

	ok, err := s.users.hasher.Verify(creds.PasswordHash, in.Password)
	if err != nil {
		return nil, apperror.Internal("verify password", err)
	}
	if !ok {
		return nil, s.rejectSignIn(ctx)
	}

	creds.PasswordHash = ""
	result, err := s.issue(*creds)
	if err != nil {
		return nil, err
	}
	recordEvent(ctx, s.events, models.EventUserSignin, LevelInfo, fmt.Sprintf("User '%s' signed in", creds.Username), &creds.ID)
	return result, nil
}

func (s *AuthService) rejectSignIn(ctx context.Context) error {
	recordEvent(ctx, s.events, models.EventAuthFailed, LevelWarn, "Failed sign-in attempt", nil)
	return apperror.Unauthorized("invalid credentials")
}

// SignOut revokes the token described by claims until it would have expired.
func (s *AuthService) SignOut(ctx context.Context, claims *auth.Claims) error {
	if s.revoker == nil {
		return ErrRevocationDisabled
	}
	if claims == nil || claims.ID == "" {
		return apperror.Unauthorized("invalid auth token")
	}

	var ttl time.Duration
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Time.Sub(s.now())
	}
	if err := s.revoker.Revoke(ctx, claims.ID, ttl); err != nil {
		return apperror.Internal("revoke token", err)
	}
	log.Info().Str("user_id", claims.UserID()).Msg("Token revoked")
	userID := claims.UserID()
	recordEvent(ctx, s.events, models.EventUserSignout, LevelInfo, fmt.Sprintf("User '%s' signed out", claims.Username), &userID)
	return nil
}

// RevocationEnabled reports whether SignOut can revoke tokens.
func (s *AuthService) RevocationEnabled() bool {
	return s.revoker != nil
}

func (s *AuthService) issue(user models.User) (*AuthResult, error) {
	token, expiresAt, err := s.tokens.Generate(user)
	if err != nil {
		return nil, apperror.Internal("generate token", err)
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}
