package domain

import "time"

// User represents a registered platform user. The uuid is generated once at
// creation and forms the secret half of the API key; rotating it invalidates
// every previously issued key.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	UUID         string    `json:"-" db:"uuid"`
	PasswordHash *string   `json:"-" db:"password_hash"`
	FirstName    string    `json:"first_name" db:"first_name"`
	LastName     string    `json:"last_name" db:"last_name"`
	AvatarURL    *string   `json:"avatar_url,omitempty" db:"avatar_url"`
	IsStaff      bool      `json:"is_staff" db:"is_staff"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// APIKey returns the opaque key that authenticates this user outside of the
// JWT flow.
func (u User) APIKey() string {
	return u.Username + ":" + u.UUID
}
