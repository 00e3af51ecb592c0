package auth

import (
	"errors"
	"regexp"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleViewer observes: link status, inventories, session state,
	// archives, exports. Viewers cannot touch the controller or the
	// session lifecycle.
	RoleViewer Role = "viewer"

	// RoleOperator holds everything viewer does plus the mutating
	// operations: connect/disconnect, scans, session start/stop,
	// imports and deletes.
	RoleOperator Role = "operator"
)

// ValidRoles is the set of roles an account may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator}

// IsValidRole returns true if the role names a known tier.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// CanMutate reports whether the role may invoke state-changing operations.
func (r Role) CanMutate() bool {
	return r == RoleOperator
}

// User represents one configured account. Accounts live in the service
// configuration file, not in the database; a trend tool is installed
// with a handful of users.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"` // never serialised
	Role         Role   `json:"role"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
)
