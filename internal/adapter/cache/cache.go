// Package cache implements the look-aside object cache on top of Redis.
// Every operation is advisory: a miss or a Redis failure never surfaces as
// an error to the caller, it falls through to the Store instead. The Store
// remains the single source of truth; the cache only shortcuts reads.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/heartmarshall/myenglish-backend/internal/domain"
)

// Config holds the Redis connection settings.
type Config struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	TTL          time.Duration
}

// DefaultTTL is used when Config.TTL is the zero value.
const DefaultTTL = time.Hour

// Cache is the look-aside cache in front of the object Store.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and fails fast with a Ping, mirroring the
// connect-and-verify pattern used for every other external dependency in
// this codebase.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: connect: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Cache{client: client, ttl: ttl}, nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

func objectKey(id uuid.UUID) string {
	return "obj:" + id.String()
}

func codeKey(tenantID uuid.UUID, typeCode, code string) string {
	return fmt.Sprintf("code:%s:%s:%s", tenantID, typeCode, code)
}

// GetByID returns the cached object for id, and whether it was present.
// Any Redis error is logged by the caller via the returned error and
// treated identically to a miss — callers should fall through to the Store
// regardless of which of the two occurred.
func (c *Cache) GetByID(ctx context.Context, id uuid.UUID) (domain.Object, bool, error) {
	raw, err := c.client.Get(ctx, objectKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Object{}, false, nil
	}
	if err != nil {
		return domain.Object{}, false, fmt.Errorf("%w: get %s", domain.ErrCacheUnavailable, err)
	}

	var obj domain.Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return domain.Object{}, false, fmt.Errorf("%w: decode %s", domain.ErrCacheUnavailable, err)
	}
	return obj, true, nil
}

// GetIDByCode resolves the secondary code key to an object id.
func (c *Cache) GetIDByCode(ctx context.Context, tenantID uuid.UUID, typeCode, code string) (uuid.UUID, bool, error) {
	raw, err := c.client.Get(ctx, codeKey(tenantID, typeCode, code)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("%w: get %s", domain.ErrCacheUnavailable, err)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("%w: parse id %s", domain.ErrCacheUnavailable, err)
	}
	return id, true, nil
}

// Put writes both the obj: and code: keys for an object with the
// configured TTL.
func (c *Cache) Put(ctx context.Context, obj domain.Object) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("%w: encode %s", domain.ErrCacheUnavailable, err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, objectKey(obj.ID), raw, c.ttl)
	pipe.Set(ctx, codeKey(obj.TenantID, obj.TypeCode, obj.Code), obj.ID.String(), c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: put %s", domain.ErrCacheUnavailable, err)
	}
	return nil
}

// Invalidate removes the obj: key. The code: key for a since-renamed or
// deleted object is left to expire by TTL — it only ever resolves to an id,
// so a stale hit simply falls through to a Store miss or a tenant-mismatch
// absent result.
func (c *Cache) Invalidate(ctx context.Context, id uuid.UUID) error {
	if err := c.client.Del(ctx, objectKey(id)).Err(); err != nil {
		return fmt.Errorf("%w: invalidate %s", domain.ErrCacheUnavailable, err)
	}
	return nil
}

// InvalidateByCode resolves the code key to an id and invalidates both
// keys for that object.
func (c *Cache) InvalidateByCode(ctx context.Context, tenantID uuid.UUID, typeCode, code string) error {
	id, found, err := c.GetIDByCode(ctx, tenantID, typeCode, code)
	if err != nil {
		return err
	}

	key := codeKey(tenantID, typeCode, code)
	if !found {
		return nil
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, objectKey(id))
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: invalidate by code %s", domain.ErrCacheUnavailable, err)
	}
	return nil
}

// InvalidateByType performs a bulk scan-and-delete of every code: key for a
// tenant/type pair. Linear in cache size per spec: reserved for offline or
// low-frequency administrative use, never the per-mutation hot path.
func (c *Cache) InvalidateByType(ctx context.Context, tenantID uuid.UUID, typeCode string) error {
	pattern := fmt.Sprintf("code:%s:%s:*", tenantID, typeCode)

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return fmt.Errorf("%w: scan %s", domain.ErrCacheUnavailable, err)
		}

		for _, key := range keys {
			id, err := c.client.Get(ctx, key).Result()
			if err != nil {
				continue
			}
			if parsed, err := uuid.Parse(id); err == nil {
				c.client.Del(ctx, objectKey(parsed))
			}
			c.client.Del(ctx, key)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
