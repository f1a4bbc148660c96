// Package user describes the user store and its persistence contracts.
package user

import (
	"context"
	"errors"

	"github.com/go-webauthn/webauthn/webauthn"
)

var (
	// ErrUserNotFound happens when the user is not found in the store.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists happens when creating a user whose name is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrCredentialNotFound happens when the credential is not found in the store.
	ErrCredentialNotFound = errors.New("credential not found")
)

// Repository defines the user methods.
//
// Every mutating call is durable before it returns: an implementation must
// either flush and succeed, or fail and leave both the persisted and the
// in-memory state untouched.
type Repository interface {
	// GetByName fetches a user and its credentials. Returns ErrUserNotFound.
	GetByName(ctx context.Context, name string) (*User, error)
	// Create adds a user owning exactly the one given credential.
	// Returns ErrUserExists if the name is taken.
	Create(ctx context.Context, name string, displayName string, credential *webauthn.Credential) (*User, error)
	// UpdateCredential replaces the stored credential matching credential.ID,
	// persisting the new signature counter. Returns ErrUserNotFound or
	// ErrCredentialNotFound.
	UpdateCredential(ctx context.Context, name string, credential *webauthn.Credential) error
	// SetCheckedIn toggles the persisted presence flag of a user.
	// Returns ErrUserNotFound.
	SetCheckedIn(ctx context.Context, name string, checkedIn bool) error
	// ListCheckedIn returns the names of users whose presence flag is set.
	ListCheckedIn(ctx context.Context) ([]string, error)
}
