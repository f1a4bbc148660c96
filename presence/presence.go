// Package presence tracks which users are currently signed in or checked in.
package presence

import "context"

// Tracker maintains the set of present usernames. Two backends exist: an
// ephemeral in-memory set, and one persisted on the user store's checked-in
// flag. Presence never expires on its own; membership only changes through
// explicit toggles.
type Tracker interface {
	SetPresent(ctx context.Context, name string) error
	SetAbsent(ctx context.Context, name string) error
	// ListPresent returns the present usernames. Order is unspecified,
	// uniqueness is guaranteed.
	ListPresent(ctx context.Context) ([]string, error)
}
