package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	versionKeyPrefix = "ledger:version"
	bumpChannel      = "ledger.bump"
)

// Cache stores ledger query results in Redis under organization versioned
// keys. A nil Cache or client disables caching.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool {
	return c != nil && c.client != nil
}

func versionKey(orgID int64) string {
	return fmt.Sprintf("%s:%d", versionKeyPrefix, orgID)
}

// Version returns the current cache version of the organization.
func (c *Cache) Version(ctx context.Context, orgID int64) (int64, error) {
	if !c.enabled() {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(orgID)).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, versionKey(orgID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey(orgID)).Int64()
	}
	return ver, err
}

// BuildKey composes the cache key with the organization's current version.
func (c *Cache) BuildKey(ctx context.Context, orgID int64, parts ...string) (string, error) {
	base := fmt.Sprintf("ledger:%d:%s", orgID, strings.Join(parts, ":"))
	if !c.enabled() {
		return base, nil
	}
	ver, err := c.Version(ctx, orgID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", base, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c.enabled() {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return json.Unmarshal(payload, dest)
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c.enabled() {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, dest)
}

// Invalidate bumps the organization's version so older keys are never read
// again, and announces the bump.
func (c *Cache) Invalidate(ctx context.Context, orgID int64) error {
	if !c.enabled() {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(orgID)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(orgID, 10)+":"+strconv.FormatInt(ver, 10)).Err()
}
