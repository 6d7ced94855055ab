package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TypeCache caches message type rows in Redis in front of the store.
// A single version counter namespaces every key; invalidation bumps
// the counter instead of scanning for keys, so stale entries just age
// out under their TTL.
type TypeCache struct {
	store *Store
	rdb   *redis.Client
	ttl   time.Duration
}

const typeCacheVersionKey = "message_types:version"

// NewTypeCache wraps the store with a Redis cache. A one hour TTL
// bounds how long an orphaned generation lingers.
func NewTypeCache(store *Store, rdb *redis.Client) *TypeCache {
	return &TypeCache{store: store, rdb: rdb, ttl: time.Hour}
}

func (c *TypeCache) version(ctx context.Context) int64 {
	v, err := c.rdb.Get(ctx, typeCacheVersionKey).Int64()
	if err != nil {
		return 0
	}
	return v
}

// ByID returns the message type, from cache when possible.
func (c *TypeCache) ByID(ctx context.Context, id int64) (*MessageType, error) {
	key := fmt.Sprintf("message_types:%d:id:%d", c.version(ctx), id)
	return c.lookup(ctx, key, func() (*MessageType, error) {
		return c.store.TypeByID(ctx, id)
	})
}

// ByMailClass returns the message type for a logical template id.
func (c *TypeCache) ByMailClass(ctx context.Context, mailClass string) (*MessageType, error) {
	key := fmt.Sprintf("message_types:%d:class:%s", c.version(ctx), mailClass)
	return c.lookup(ctx, key, func() (*MessageType, error) {
		return c.store.TypeByMailClass(ctx, mailClass)
	})
}

func (c *TypeCache) lookup(ctx context.Context, key string, load func() (*MessageType, error)) (*MessageType, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var t MessageType
		if err := json.Unmarshal(raw, &t); err == nil {
			return &t, nil
		}
		// Unreadable entry: fall through and overwrite it.
	} else if !errors.Is(err, redis.Nil) {
		// Redis being down must not stop sending; read through.
		t, loadErr := load()
		if loadErr != nil {
			return nil, loadErr
		}
		return t, nil
	}

	t, err := load()
	if err != nil {
		return nil, err
	}
	if encoded, err := json.Marshal(t); err == nil {
		c.rdb.Set(ctx, key, encoded, c.ttl)
	}
	return t, nil
}

// Invalidate drops every cached type by advancing the version counter.
// Called whenever a message type row changes.
func (c *TypeCache) Invalidate(ctx context.Context) error {
	return c.rdb.Incr(ctx, typeCacheVersionKey).Err()
}
