package models

import "time"

// User represents a user account in the system.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // Never expose this to the client
	FirstName    *string   `json:"first_name"`
	LastName     *string   `json:"last_name"`
	Bio          *string   `json:"bio"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewUser holds the fields required to insert a user row.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	FirstName    *string
	LastName     *string
	Bio          *string
}

// UserUpdate carries a partial update. Nil fields keep their stored value.
type UserUpdate struct {
	Username     *string
	Email        *string
	PasswordHash *string
	FirstName    *string
	LastName     *string
	Bio          *string
}

// Empty reports whether the update changes nothing.
func (u UserUpdate) Empty() bool {
	return u.Username == nil && u.Email == nil && u.PasswordHash == nil &&
		u.FirstName == nil && u.LastName == nil && u.Bio == nil
}

// UserList is one page of users plus the total matching the search.
type UserList struct {
	Users      []User `json:"users"`
	TotalCount int64  `json:"total_count"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}
