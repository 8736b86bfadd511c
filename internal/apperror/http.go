package apperror

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
)

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ToResponse converts err into a status code and a client-safe body.
// Internal errors never leak their message.
func ToResponse(err error) (int, ErrorResponse) {
	kind := KindOf(err)
	message := "internal server error"
	if kind != KindInternal {
		var appErr *Error
		if errors.As(err, &appErr) && appErr.Message != "" {
			message = appErr.Message
		} else {
			message = err.Error()
		}
	}
	return HTTPStatus(kind), ErrorResponse{Error: message, Code: Code(kind)}
}

// WriteJSON writes err as a JSON error response, logging internal failures.
func WriteJSON(w http.ResponseWriter, r *http.Request, err error) {
	status, body := ToResponse(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
