package model

import "time"

type Role string

const (
	RoleAdmin       Role = "admin"
	RoleRegularUser Role = "user"
)

type UserStatus int

const (
	UserDisabled UserStatus = 0
	UserEnabled  UserStatus = 1
)

// User is an authenticated principal. PasswordChangedAt invalidates any
// JWT issued before it — see middleware.Auth.
type User struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"`
	Role              Role       `json:"role"`
	Status            UserStatus `json:"status"`
	PasswordChangedAt time.Time  `json:"passwordChangedAt"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}
