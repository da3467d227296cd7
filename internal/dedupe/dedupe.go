// Package dedupe provides an optional Redis-backed "seen" cache that sits in
// front of the store-level idempotency guard. The cache is advisory: a miss or
// a Redis failure always falls through to the store lookup, and the unique
// index on (workspace_id, external_id) stays the source of truth.
package dedupe

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "wa:seen:"

// Entry is what the cache remembers about a persisted message.
type Entry struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	ContactID      string `json:"contact_id,omitempty"`
}

// Cache remembers persisted (workspace, external id) pairs.
type Cache interface {
	Lookup(ctx context.Context, workspaceID, externalID string) (Entry, bool, error)
	Remember(ctx context.Context, workspaceID, externalID string, e Entry) error
}

// Noop is the Cache used when Redis is not configured. It never hits.
type Noop struct{}

// Lookup implements Cache.
func (Noop) Lookup(context.Context, string, string) (Entry, bool, error) { return Entry{}, false, nil }

// Remember implements Cache.
func (Noop) Remember(context.Context, string, string, Entry) error { return nil }

// Redis is a Cache backed by go-redis.
type Redis struct {
	Client *redis.Client
	TTL    time.Duration
}

// NewRedis connects to addr and verifies the connection with PING.
func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Redis{Client: client, TTL: ttl}, nil
}

func key(workspaceID, externalID string) string {
	return keyPrefix + workspaceID + ":" + externalID
}

// Lookup implements Cache.
func (r *Redis) Lookup(ctx context.Context, workspaceID, externalID string) (Entry, bool, error) {
	if externalID == "" {
		return Entry{}, false, nil
	}
	raw, err := r.Client.Get(ctx, key(workspaceID, externalID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, err
	}
	return e, e.MessageID != "", nil
}

// Remember implements Cache. It never overwrites an existing entry.
func (r *Redis) Remember(ctx context.Context, workspaceID, externalID string, e Entry) error {
	if externalID == "" || e.MessageID == "" {
		return nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return r.Client.SetNX(ctx, key(workspaceID, externalID), b, r.TTL).Err()
}

// Close releases the Redis connection pool.
func (r *Redis) Close() error { return r.Client.Close() }
