package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/bookshelf-be/internal/apperror"
	"github.com/isdelr/bookshelf-be/internal/auth"
	"github.com/isdelr/bookshelf-be/internal/services"
	"github.com/rs/zerolog/log"
)

// UserHandler handles HTTP requests for user management.
type UserHandler struct {
	service services.UserServiceProvider
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(service services.UserServiceProvider) *UserHandler {
	return &UserHandler{service: service}
}

// DeleteResponse is returned after a user is deleted.
type DeleteResponse struct {
	DeletedID string `json:"deleted_id"`
}

// List handles searching and paging through users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	var (
		q   = services.ListQuery{Search: r.URL.Query().Get("search")}
		err error
	)
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		respondError(w, r, err)
		return
	}
	if q.Offset, err = queryInt(r, "offset"); err != nil {
		respondError(w, r, err)
		return
	}
	if q.Page, err = queryInt(r, "page"); err != nil {
		respondError(w, r, err)
		return
	}

	list, err := h.service.ListUsers(r.Context(), q)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// Create handles admin creation of a user. No token is issued.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload services.CreateUserInput
	if err := decodeJSON(w, r, &payload); err != nil {
		respondError(w, r, err)
		return
	}

	user, err := h.service.CreateUser(r.Context(), payload)
	if err != nil {
		log.Warn().Err(err).Str("username", payload.Username).Msg("Failed to create user")
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

// GetMe retrieves the currently authenticated user from the token.
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		log.Error().Msg("Could not retrieve user claims from context")
		respondError(w, r, apperror.Unauthorized("missing auth token"))
		return
	}

	user, err := h.service.GetUser(r.Context(), claims.UserID())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// Get handles retrieving a user by their ID.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// Update handles a partial profile update of the caller's own account.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := requireSelf(r, id); err != nil {
		respondError(w, r, err)
		return
	}

	var payload services.UpdateUserInput
	if err := decodeJSON(w, r, &payload); err != nil {
		respondError(w, r, err)
		return
	}

	user, err := h.service.UpdateUser(r.Context(), id, payload)
	if err != nil {
		log.Warn().Err(err).Str("user_id", id).Msg("Failed to update user")
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// Delete handles the permanent deletion of the caller's own account.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := requireSelf(r, id); err != nil {
		respondError(w, r, err)
		return
	}

	deletedID, err := h.service.DeleteUser(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Str("user_id", id).Msg("Failed to delete user")
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, DeleteResponse{DeletedID: deletedID})
}

// requireSelf allows the request only when the token belongs to user id.
func requireSelf(r *http.Request, id string) error {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return apperror.Unauthorized("missing auth token")
	}
	if claims.UserID() != id {
		return apperror.Forbidden("you can only modify your own account")
	}
	return nil
}
