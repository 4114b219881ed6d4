package session

import (
	"github.com/felixgeelhaar/assetdesk/internal/api"
)

// State is the session lifecycle state.
type State int

const (
	// Resolving is the initial state until the stored session has been checked.
	Resolving State = iota
	// Authenticated means the provider session exists and the server accepted
	// its token for a user holding the console role.
	Authenticated
	// Unauthenticated covers signed out, denied and expired.
	Unauthenticated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Resolving:
		return "resolving"
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the session.
//
// User and Token are both set exactly when State is Authenticated.
type Snapshot struct {
	State State
	User  *api.User
	Token string

	// Loading is true only while the initial resolution runs.
	Loading bool

	// Reason is the error that caused the most recent move to
	// Unauthenticated, nil for an explicit logout or when no session existed.
	Reason error
}

// clone returns a copy that shares nothing mutable with s.
func (s Snapshot) clone() Snapshot {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// AccountChange lists which account fields a user edit touches.
type AccountChange struct {
	Email    bool
	Password bool
	Role     bool
	Active   bool
	FullName bool
}

// RequiresLogout reports whether an edit of one's own account invalidates the
// current credential. Display-name edits do not.
func RequiresLogout(c AccountChange) bool {
	return c.Email || c.Password || c.Role || c.Active
}

// ChangeBetween compares an update to the account it applies to.
func ChangeBetween(before api.User, update api.UserUpdate) AccountChange {
	return AccountChange{
		Email:    update.Email != nil && *update.Email != before.Email,
		Password: update.Password != nil && *update.Password != "",
		Role:     update.Role != nil && *update.Role != before.Role,
		Active:   update.Active != nil && *update.Active != before.Active,
		FullName: update.FullName != nil && *update.FullName != before.FullName,
	}
}
