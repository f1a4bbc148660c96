// Package jsonfile implements the user store over a single JSON file.
//
// Every mutation rewrites the whole file. This is only acceptable because
// user and credential volumes are small; swap in the sqlite backend when
// that stops being true.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/attendkey/attendkey/database/user"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

type userModel struct {
	Username    string            `json:"username"`
	DisplayName string            `json:"displayName"`
	Credentials []credentialModel `json:"credentials"`
	CheckedIn   bool              `json:"checkedIn"`
}

type credentialModel struct {
	ID              protocol.URLEncodedBase64          `json:"id"`
	PublicKey       protocol.URLEncodedBase64          `json:"publicKey"`
	AttestationType string                             `json:"attestationType,omitempty"`
	Transport       []protocol.AuthenticatorTransport  `json:"transport,omitempty"`
	Flags           webauthn.CredentialFlags           `json:"flags"`
	AAGUID          protocol.URLEncodedBase64          `json:"aaguid,omitempty"`
	SignCount       uint32                             `json:"counter"`
	Attachment      protocol.AuthenticatorAttachment   `json:"attachment,omitempty"`
}

func credentialToModel(credential *webauthn.Credential) credentialModel {
	return credentialModel{
		ID:              credential.ID,
		PublicKey:       credential.PublicKey,
		AttestationType: credential.AttestationType,
		Transport:       credential.Transport,
		Flags:           credential.Flags,
		AAGUID:          credential.Authenticator.AAGUID,
		SignCount:       credential.Authenticator.SignCount,
		Attachment:      credential.Authenticator.Attachment,
	}
}

func credentialFromModel(credential *credentialModel) webauthn.Credential {
	return webauthn.Credential{
		ID:              credential.ID,
		PublicKey:       credential.PublicKey,
		AttestationType: credential.AttestationType,
		Transport:       credential.Transport,
		Flags:           credential.Flags,
		Authenticator: webauthn.Authenticator{
			AAGUID:     credential.AAGUID,
			SignCount:  credential.SignCount,
			Attachment: credential.Attachment,
		},
	}
}

func fromModel(u *userModel) *user.User {
	credentials := make([]webauthn.Credential, 0, len(u.Credentials))
	for i := range u.Credentials {
		credentials = append(credentials, credentialFromModel(&u.Credentials[i]))
	}
	return &user.User{
		Name:        u.Username,
		DisplayName: u.DisplayName,
		Credentials: credentials,
		CheckedIn:   u.CheckedIn,
	}
}

// Store is a file-backed user repository.
type Store struct {
	path string

	mu    sync.Mutex
	users []userModel
}

// NewStore opens or creates the store file at path.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run, flushed on the first mutation.
	case err != nil:
		return nil, fmt.Errorf("failed to read user store %q: %w", path, err)
	default:
		if err := json.Unmarshal(data, &s.users); err != nil {
			return nil, fmt.Errorf("failed to parse user store %q: %w", path, err)
		}
	}
	return s, nil
}

// flush serializes users and atomically replaces the store file.
func (s *Store) flush(users []userModel) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write user store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace user store: %w", err)
	}
	return nil
}

func (s *Store) find(name string) int {
	for i := range s.users {
		if s.users[i].Username == name {
			return i
		}
	}
	return -1
}

// GetByName fetches a user from the store.
func (s *Store) GetByName(_ context.Context, name string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(name)
	if i < 0 {
		return nil, user.ErrUserNotFound
	}
	return fromModel(&s.users[i]), nil
}

// Create adds a user with exactly one credential and flushes the store.
//
// The in-memory state is only committed once the flush succeeded, so a
// failed flush leaves no half-written user behind.
func (s *Store) Create(
	_ context.Context,
	name string,
	displayName string,
	credential *webauthn.Credential,
) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(name) >= 0 {
		return nil, user.ErrUserExists
	}

	next := make([]userModel, len(s.users), len(s.users)+1)
	copy(next, s.users)
	next = append(next, userModel{
		Username:    name,
		DisplayName: displayName,
		Credentials: []credentialModel{credentialToModel(credential)},
	})

	if err := s.flush(next); err != nil {
		return nil, err
	}
	s.users = next
	return fromModel(&next[len(next)-1]), nil
}

// UpdateCredential persists the new state of a verified credential.
func (s *Store) UpdateCredential(
	_ context.Context,
	name string,
	credential *webauthn.Credential,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(name)
	if i < 0 {
		return user.ErrUserNotFound
	}

	next := make([]userModel, len(s.users))
	copy(next, s.users)
	u := next[i]
	u.Credentials = make([]credentialModel, len(s.users[i].Credentials))
	copy(u.Credentials, s.users[i].Credentials)

	found := false
	for j := range u.Credentials {
		if string(u.Credentials[j].ID) == string(credential.ID) {
			u.Credentials[j] = credentialToModel(credential)
			found = true
			break
		}
	}
	if !found {
		return user.ErrCredentialNotFound
	}
	next[i] = u

	if err := s.flush(next); err != nil {
		return err
	}
	s.users = next
	return nil
}

// SetCheckedIn toggles the persisted presence flag of a user.
func (s *Store) SetCheckedIn(_ context.Context, name string, checkedIn bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(name)
	if i < 0 {
		return user.ErrUserNotFound
	}

	next := make([]userModel, len(s.users))
	copy(next, s.users)
	next[i].CheckedIn = checkedIn

	if err := s.flush(next); err != nil {
		return err
	}
	s.users = next
	return nil
}

// ListCheckedIn returns the names of checked-in users, in registration order.
func (s *Store) ListCheckedIn(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0)
	for i := range s.users {
		if s.users[i].CheckedIn {
			names = append(names, s.users[i].Username)
		}
	}
	return names, nil
}
