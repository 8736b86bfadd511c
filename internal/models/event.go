package models

import "time"

// Event represents a loggable account action.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`  // e.g., "user.signup", "user.deleted"
	Level     string    `json:"level"` // e.g., "info", "warn"
	Message   string    `json:"message"`
	UserID    *string   `json:"user_id,omitempty"` // Nullable for anonymous events
	CreatedAt time.Time `json:"created_at"`
}

const (
	EventUserSignup  = "user.signup"
	EventUserSignin  = "user.signin"
	EventUserSignout = "user.signout"
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
	EventAuthFailed  = "auth.failed"

	EventSystemRetention   = "system.retention"
	EventSystemAlertMemory = "system.alert.memory"
)
