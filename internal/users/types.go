package users

import (
	"fmt"
	"time"

	"github.com/audioflow/audioflow/internal/apperr"
)

// Roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Field limits.
const (
	MaxNameRunes     = 64
	MaxEmailLength   = 254
	MinPasswordBytes = 8
	// bcrypt ignores input beyond 72 bytes.
	MaxPasswordBytes = 72
)

var (
	ErrUserNotFound       = fmt.Errorf("%w: user not found", apperr.ErrNotFound)
	ErrEmailTaken         = fmt.Errorf("%w: email already registered", apperr.ErrConflict)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", apperr.ErrUnauthorized)
	ErrInvalidEmail       = fmt.Errorf("%w: invalid email", apperr.ErrValidation)
	ErrInvalidName        = fmt.Errorf("%w: name must be 1-%d characters", apperr.ErrValidation, MaxNameRunes)
	ErrInvalidPassword    = fmt.Errorf("%w: password must be %d-%d bytes", apperr.ErrValidation, MinPasswordBytes, MaxPasswordBytes)
)

// User is an account as exposed to callers. PasswordHash never leaves the package in JSON.
type User struct {
	ID           int64     `json:"id,string"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CreateUserRequest is the input of Register.
type CreateUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"-"`
}
