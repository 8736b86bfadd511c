package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/isdelr/bookshelf-be/internal/apperror"
	"github.com/rs/zerolog/log"
)

// TokenCookieName is the cookie carrying the session token for browser clients.
const TokenCookieName = "token"

type contextKey string

// UserClaimsKey is the context key for user claims.
const UserClaimsKey = contextKey("userClaims")

// ClaimsFromContext returns the claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserClaimsKey).(*Claims)
	return claims, ok && claims != nil
}

// WithClaims returns a copy of ctx carrying claims.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, UserClaimsKey, claims)
}

// TokenFromRequest extracts a session token from the Authorization header,
// falling back to the token cookie and then the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(TokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get("token")
}

// Middleware protects routes with a valid, non-revoked session token.
// revoker may be nil when revocation is disabled.
func Middleware(tokens *TokenManager, revoker Revoker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := TokenFromRequest(r)
			if tokenStr == "" {
				apperror.WriteJSON(w, r, apperror.Unauthorized("missing auth token"))
				return
			}

			claims, err := tokens.Validate(tokenStr)
			if err != nil {
				log.Debug().Err(err).Msg("Rejected auth token")
				apperror.WriteJSON(w, r, apperror.Unauthorized("invalid auth token"))
				return
			}

			if revoker != nil {
				revoked, err := revoker.IsRevoked(r.Context(), claims.ID)
				if err != nil {
					apperror.WriteJSON(w, r, apperror.Internal("check token revocation", err))
					return
				}
				if revoked {
					apperror.WriteJSON(w, r, apperror.Unauthorized("invalid auth token"))
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
