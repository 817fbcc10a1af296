// Package role caches the current user's role and gates mutations on it.
package role

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the closed set of user roles.
type Role int

const (
	User Role = iota
	Admin
)

func (r Role) String() string {
	if r == Admin {
		return "admin"
	}
	return "user"
}

// ParseRole maps a raw role string to a Role. Anything other than "admin"
// (case-insensitive) is User.
func ParseRole(raw string) Role {
	if strings.EqualFold(strings.TrimSpace(raw), "admin") {
		return Admin
	}
	return User
}

// Source records where the current role value came from.
type Source int

const (
	Default Source = iota
	Cached
	Remote
)

func (s Source) String() string {
	switch s {
	case Cached:
		return "cached"
	case Remote:
		return "remote"
	default:
		return "default"
	}
}

// State is the role together with its provenance.
type State struct {
	Role   Role
	Source Source
}

// DefaultState is used when nothing is known about the user.
var DefaultState = State{Role: User, Source: Default}

// ErrPermissionDenied is returned by callers that surface a Denied decision
// as an error.
var ErrPermissionDenied = errors.New("permission denied: admin role required")

// FetchError reports a failed remote role lookup. It is logged, never
// returned: the cache falls back to its last known value.
type FetchError struct {
	UserID string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch role for %s: %v", e.UserID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
