package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/isdelr/bookshelf-be/internal/apperror"
	"github.com/isdelr/bookshelf-be/internal/auth"
	"github.com/isdelr/bookshelf-be/internal/services"
	"github.com/rs/zerolog/log"
)

// AuthHandler handles sign-up, sign-in and sign-out.
type AuthHandler struct {
	service       services.AuthServiceProvider
	secureCookies bool
}

// NewAuthHandler creates a new AuthHandler. secureCookies sets the Secure
// flag on the token cookie and should be true in production.
func NewAuthHandler(service services.AuthServiceProvider, secureCookies bool) *AuthHandler {
	return &AuthHandler{service: service, secureCookies: secureCookies}
}

// SignUp handles new user registration.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var payload services.CreateUserInput
	if err := decodeJSON(w, r, &payload); err != nil {
		respondError(w, r, err)
		return
	}

	result, err := h.service.SignUp(r.Context(), payload)
	if err != nil {
		log.Warn().Err(err).Str("username", payload.Username).Msg("Failed to register user")
		respondError(w, r, err)
		return
	}

	h.setTokenCookie(w, result.Token, result.ExpiresAt)
	respondJSON(w, http.StatusCreated, result)
}

// SignIn handles user authentication and token issuance.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var payload services.SignInInput
	if err := decodeJSON(w, r, &payload); err != nil {
		respondError(w, r, err)
		return
	}

	result, err := h.service.SignIn(r.Context(), payload)
	if err != nil {
		if apperror.Is(err, apperror.KindUnauthorized) {
			log.Warn().Str("login", payload.Identifier()).Msg("Failed authentication attempt")
		}
		respondError(w, r, err)
		return
	}

	h.setTokenCookie(w, result.Token, result.ExpiresAt)
	respondJSON(w, http.StatusOK, result)
}

// SignOut revokes the caller's token and clears the cookie.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		respondError(w, r, apperror.Unauthorized("missing auth token"))
		return
	}

	if err := h.service.SignOut(r.Context(), claims); err != nil {
		if errors.Is(err, services.ErrRevocationDisabled) {
			respondError(w, r, apperror.NotFound("sign-out is not available"))
			return
		}
		respondError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookieName,
		Value:    token,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
	})
}
