// Package presence tracks live realtime connections per user in the
// shared key-value store, so online state is visible across server
// processes. A user is online iff their connection set is non-empty;
// only the empty<->non-empty edges trigger contact notifications.
package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	connSetPrefix  = "presence:conns:"
	lastSeenPrefix = "presence:last_seen:"

	// Connection sets expire if no server refreshes them, so a
	// crashed process cannot pin a user online forever.
	connSetTTL = 12 * time.Hour
)

// disconnect removes a connection id and reports the set state in one
// atomic step, so concurrent disconnects of a user's last devices
// cannot both observe the empty set and double-fire the offline edge.
// Returns 0 (unknown conn), 1 (removed, others remain), 2 (removed,
// set now empty).
var disconnect = redis.NewScript(`
if redis.call("SREM", KEYS[1], ARGV[1]) == 0 then
    return 0
end
if redis.call("SCARD", KEYS[1]) > 0 then
    return 1
end
return 2
`)

// Store is the redis-backed presence registry.
type Store struct {
	rdb *redis.Client
	now func() time.Time
}

// NewStore builds a Store.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, now: time.Now}
}

// Connect records a live connection for the user. It reports whether
// this was the user's first connection (the offline->online edge).
func (s *Store) Connect(ctx context.Context, userID int64, connID string) (bool, error) {
	key := connKey(userID)
	pipe := s.rdb.TxPipeline()
	added := pipe.SAdd(ctx, key, connID)
	card := pipe.SCard(ctx, key)
	pipe.Expire(ctx, key, connSetTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("presence connect: %w", err)
	}
	return added.Val() == 1 && card.Val() == 1, nil
}

// Disconnect removes a connection. It reports whether the user's set
// became empty (the online->offline edge), in which case last_seen is
// persisted. Disconnecting an unknown connection id is a no-op.
func (s *Store) Disconnect(ctx context.Context, userID int64, connID string) (bool, error) {
	res, err := disconnect.Run(ctx, s.rdb, []string{connKey(userID)}, connID).Int64()
	if err != nil {
		return false, fmt.Errorf("presence disconnect: %w", err)
	}
	if res != 2 {
		return false, nil
	}

	if err := s.rdb.Set(ctx, lastSeenKey(userID), s.now().UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return true, fmt.Errorf("persist last_seen: %w", err)
	}
	return true, nil
}

// IsOnline reports whether the user has at least one live connection.
func (s *Store) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := s.rdb.SCard(ctx, connKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence lookup: %w", err)
	}
	return n > 0, nil
}

// Connections returns the user's live connection ids.
func (s *Store) Connections(ctx context.Context, userID int64) ([]string, error) {
	conns, err := s.rdb.SMembers(ctx, connKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence connections: %w", err)
	}
	return conns, nil
}

// LastSeen returns when the user last went offline. The second return
// is false if the user has never disconnected.
func (s *Store) LastSeen(ctx context.Context, userID int64) (time.Time, bool, error) {
	raw, err := s.rdb.Get(ctx, lastSeenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last_seen lookup: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last_seen: %w", err)
	}
	return ts, true, nil
}

func connKey(userID int64) string {
	return fmt.Sprintf("%s%d", connSetPrefix, userID)
}

func lastSeenKey(userID int64) string {
	return fmt.Sprintf("%s%d", lastSeenPrefix, userID)
}
