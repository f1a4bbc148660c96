// Package memory implements a session store in-memory.
package memory

import (
	"context"
	"sync"

	"github.com/attendkey/attendkey/auth/webauthn/session"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Store stores the login/registration session in-memory.
//
// In production, you should use a Redis or ETCD, or any distributed Key-Value database.
// Because of this, you cannot create replicas.
type Store struct {
	mu    sync.Mutex
	store map[string]*webauthn.SessionData
}

// NewStore instanciates a session store in memory.
func NewStore() *Store {
	return &Store{
		store: make(map[string]*webauthn.SessionData),
	}
}

// Get the login or registration session.
func (s *Store) Get(_ context.Context, sessionID string) (*webauthn.SessionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.store[sessionID]; ok {
		return v, nil
	}
	return nil, session.ErrNotFound
}

// Save the login or registration session.
func (s *Store) Save(_ context.Context, sessionID string, session *webauthn.SessionData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store[sessionID] = session
	return nil
}

// Delete the login or registration session.
func (s *Store) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.store, sessionID)
	return nil
}
