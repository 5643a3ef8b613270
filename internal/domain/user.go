package domain

import "time"

// UserRole is the persisted role code of a user.
type UserRole int

const (
	RoleDefault UserRole = 0
	RoleAdmin   UserRole = 1
)

// User is an authenticated principal.
type User struct {
	ID        int64
	Username  string
	Role      UserRole
	CreatedAt time.Time
}

// UserProfile is the public projection of a user.
type UserProfile struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Profile returns the public projection of u.
func (u User) Profile() UserProfile {
	return UserProfile{ID: u.ID, Username: u.Username}
}
