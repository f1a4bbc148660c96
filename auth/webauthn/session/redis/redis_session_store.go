// Package redis implements a session store backed by a Redis server, for
// deployments running more than one replica.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/attendkey/attendkey/auth/webauthn/session"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "webauthn:session:"

// DefaultTTL bounds how long an unconsumed challenge survives.
const DefaultTTL = 5 * time.Minute

// Store stores the login/registration session in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore instanciates a session store over a Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
		ttl:    DefaultTTL,
	}
}

// Get the login or registration session.
func (s *Store) Get(ctx context.Context, sessionID string) (*webauthn.SessionData, error) {
	data, err := s.client.Get(ctx, keyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}
	var sess webauthn.SessionData
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

// Save the login or registration session.
func (s *Store) Save(ctx context.Context, sessionID string, sess *webauthn.SessionData) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+sessionID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Delete the login or registration session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
