package auth

import "time"

type Role string

const (
	RoleSponsor     Role = "sponsor"
	RoleContributor Role = "contributor"
	RoleAdmin       Role = "admin"
)

// Account is the domain representation of an authenticated party. It mirrors
// the users table and carries no JSON annotations so it can be reused by
// different presentation layers.
type Account struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains account login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
