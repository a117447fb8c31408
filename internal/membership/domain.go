// internal/membership/domain.go
package membership

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"circdesk/internal/policy"
)

var (
	ErrMemberNotFound     = errors.New("member not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrMissingName        = errors.New("missing name")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrInvalidToken       = errors.New("invalid token")
	ErrForbidden          = errors.New("forbidden")
	ErrUnknownRole        = errors.New("unknown role")
)

// Role separates library staff who manage members from ordinary patrons.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleMember, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownRole, s)
}

// Member represents a library patron.
type Member struct {
	ID             uuid.UUID    `json:"id"`
	Email          string       `json:"email"`
	Name           string       `json:"name"`
	Class          policy.Class `json:"class"`
	Role           Role         `json:"role"`
	Active         bool         `json:"active"`
	FavoriteGenres []string     `json:"favorite_genres"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Version        int          `json:"version"`
}

// Credential represents a member's login credentials.
type Credential struct {
	MemberID       uuid.UUID `json:"member_id"`
	PasswordHash   string    `json:"password_hash"`
	Salt           string    `json:"salt"`
	FailedAttempts int       `json:"-"`
	LockedUntil    time.Time `json:"-"`
}

// NewMember is the registration request.
type NewMember struct {
	Email          string       `json:"email"`
	Name           string       `json:"name"`
	Password       string       `json:"password"`
	Class          policy.Class `json:"class"`
	Role           Role         `json:"role,omitempty"`
	FavoriteGenres []string     `json:"favorite_genres"`
}

// MemberRegisteredEvent is published when a new member registers. The
// credential travels with it so a replay can authenticate.
type MemberRegisteredEvent struct {
	Member     Member     `json:"member"`
	Credential Credential `json:"credential"`
}

// MemberChangedEvent is published when a member's class, role, standing or
// favourite genres change. Nil fields are unchanged.
type MemberChangedEvent struct {
	ID             uuid.UUID     `json:"id"`
	Class          *policy.Class `json:"class,omitempty"`
	Role           *Role         `json:"role,omitempty"`
	Active         *bool         `json:"active,omitempty"`
	FavoriteGenres []string      `json:"favorite_genres"`
	At             time.Time     `json:"at"`
}
