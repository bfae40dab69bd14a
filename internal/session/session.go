// Package session resolves bearer credentials to verified identities.
// Credentials are issued by the external authentication service and
// shared through redis; this core only looks them up.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("session not found or expired")

const sessionPrefix = "session:"

// Identity is the already-verified (user, tenant) pair attached to a
// session credential.
type Identity struct {
	UserID   int64 `json:"user_id"`
	TenantID int64 `json:"tenant_id"`
}

// Store reads and writes session credentials in redis.
type Store struct {
	rdb *redis.Client
}

// NewStore builds a Store.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Resolve maps a bearer token to its identity. Unknown or expired
// tokens yield ErrSessionNotFound.
func (s *Store) Resolve(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrSessionNotFound
	}
	raw, err := s.rdb.Get(ctx, sessionPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return Identity{}, ErrSessionNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("resolve session: %w", err)
	}
	var ident Identity
	if err := json.Unmarshal(raw, &ident); err != nil {
		return Identity{}, fmt.Errorf("decode session: %w", err)
	}
	return ident, nil
}

// Issue creates a session token for an identity. Used by tests and by
// the auth collaborator in integration environments.
func (s *Store) Issue(ctx context.Context, ident Identity, ttl time.Duration) (string, error) {
	raw, err := json.Marshal(ident)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	token := uuid.NewString()
	if err := s.rdb.Set(ctx, sessionPrefix+token, raw, ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Revoke invalidates a session token.
func (s *Store) Revoke(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, sessionPrefix+token).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}
