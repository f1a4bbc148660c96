// Package memory implements an ephemeral presence tracker.
//
// The signed-in set is lost on restart, which pairs with the /logout flow:
// users simply sign in again.
package memory

import (
	"context"
	"sync"
)

// Tracker tracks present users in an in-memory set.
type Tracker struct {
	mu      sync.Mutex
	present map[string]struct{}
}

// NewTracker instanciates an empty in-memory presence tracker.
func NewTracker() *Tracker {
	return &Tracker{
		present: make(map[string]struct{}),
	}
}

// SetPresent marks a user as signed in.
func (t *Tracker) SetPresent(_ context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.present[name] = struct{}{}
	return nil
}

// SetAbsent marks a user as signed out.
func (t *Tracker) SetAbsent(_ context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.present, name)
	return nil
}

// ListPresent returns the signed-in users.
func (t *Tracker) ListPresent(_ context.Context) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.present))
	for name := range t.present {
		names = append(names, name)
	}
	return names, nil
}
