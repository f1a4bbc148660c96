// Package store implements a presence tracker persisted on the user store,
// for the attendance flavor where check-ins survive a restart.
package store

import (
	"context"

	"github.com/attendkey/attendkey/database/user"
)

// Tracker persists presence as the checked-in flag of the user record.
type Tracker struct {
	users user.Repository
}

// NewTracker instanciates a presence tracker over a user repository.
func NewTracker(users user.Repository) *Tracker {
	return &Tracker{users: users}
}

// SetPresent marks a user as checked in. Fails with user.ErrUserNotFound
// for unknown users.
func (t *Tracker) SetPresent(ctx context.Context, name string) error {
	return t.users.SetCheckedIn(ctx, name, true)
}

// SetAbsent marks a user as checked out.
func (t *Tracker) SetAbsent(ctx context.Context, name string) error {
	return t.users.SetCheckedIn(ctx, name, false)
}

// ListPresent returns the checked-in users.
func (t *Tracker) ListPresent(ctx context.Context) ([]string, error) {
	return t.users.ListCheckedIn(ctx)
}
