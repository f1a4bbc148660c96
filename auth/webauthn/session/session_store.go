// Package session handles the login/register sessions of webauthn.
//
// Each browser session holds at most one pending challenge; issuing a new
// one overwrites it, and finishing a ceremony consumes it.
package session

import (
	"context"
	"errors"

	"github.com/go-webauthn/webauthn/webauthn"
)

// Store stores the pending login/registration session, keyed by the opaque
// browser-session ID carried in the session cookie.
type Store interface {
	// Save overwrites any pending session for that ID.
	Save(ctx context.Context, sessionID string, session *webauthn.SessionData) error
	// Get is a read-only lookup. Returns ErrNotFound.
	Get(ctx context.Context, sessionID string) (*webauthn.SessionData, error)
	// Delete consumes the pending session so a challenge can never be
	// verified twice. Deleting an absent session is not an error.
	Delete(ctx context.Context, sessionID string) error
}

// ErrNotFound happens when the session is not found in the store.
var ErrNotFound = errors.New("not found in session store")
