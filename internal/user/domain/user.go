package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is a user's platform role. Every user has exactly one.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
)

// User is the core user entity. PasswordHash is argon2id (or legacy bcrypt) and never leaves the service layer.
type User struct {
	ID           string
	Email        string
	Username     string
	Name         string
	PasswordHash string
	Role         Role
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var (
	ErrEmailRequired    = errors.New("email is required")
	ErrUsernameRequired = errors.New("username is required")
	ErrPasswordRequired = errors.New("password hash is required")
	ErrInvalidRole      = errors.New("invalid role")
)

// NewUser builds an active user with a fresh id. Email and username are normalized to lower case.
func NewUser(email, username, name, passwordHash string, role Role) (*User, error) {
	now := time.Now().UTC()
	u := &User{
		ID:           uuid.NewString(),
		Email:        NormalizeIdentifier(email),
		Username:     NormalizeIdentifier(username),
		Name:         strings.TrimSpace(name),
		PasswordHash: passwordHash,
		Role:         role,
		Status:       UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// Validate returns the first validation failure.
func (u *User) Validate() error {
	if u.Email == "" {
		return ErrEmailRequired
	}
	if u.Username == "" {
		return ErrUsernameRequired
	}
	if u.PasswordHash == "" {
		return ErrPasswordRequired
	}
	if !u.Role.Valid() {
		return ErrInvalidRole
	}
	if u.Status == "" {
		u.Status = UserStatusActive
	}
	return nil
}

// Active reports whether the user may log in.
func (u *User) Active() bool {
	return u.Status == UserStatusActive
}

// NormalizeIdentifier lower-cases and trims a login identifier (email or username).
func NormalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
