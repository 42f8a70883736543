// Package cache keeps the skill catalog in Redis so API replicas share one
// copy and only one of them reloads it from the database on a miss.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"taskmarket/internal/domain"
	"taskmarket/internal/telemetry"
)

// Store is the byte-level key/value backend the catalog writes through.
type Store interface {
	// Get returns ok=false on a miss.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Redis is a Store on a go-redis client. Every key is prefixed.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Dial connects to addr and pings it once.
func Dial(ctx context.Context, addr, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return NewRedis(client, prefix), nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get error: %w", err)
	}
	return data, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set error: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache delete error: %w", err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

const skillsKey = "skills"

// Catalog caches the skill list cache-aside. Concurrent misses share one
// load. Store errors are logged and fall through to the loader.
type Catalog struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

func NewCatalog(store Store, ttl time.Duration, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{store: store, ttl: ttl, logger: logger}
}

func (c *Catalog) List(ctx context.Context, load func(context.Context) ([]domain.Skill, error)) ([]domain.Skill, error) {
	data, ok, err := c.store.Get(ctx, skillsKey)
	switch {
	case err != nil:
		telemetry.SkillCacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("skill cache read failed", slog.String("error", err.Error()))
	case ok:
		var skills []domain.Skill
		if err := json.Unmarshal(data, &skills); err == nil {
			telemetry.SkillCacheLookups.WithLabelValues("hit").Inc()
			return skills, nil
		}
		telemetry.SkillCacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("skill cache entry unreadable, reloading")
	default:
		telemetry.SkillCacheLookups.WithLabelValues("miss").Inc()
	}

	v, err, _ := c.group.Do(skillsKey, func() (any, error) {
		skills, err := load(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(skills)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(ctx, skillsKey, data, c.ttl); err != nil {
			c.logger.Warn("skill cache write failed", slog.String("error", err.Error()))
		}
		return skills, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Skill), nil
}

// Invalidate drops the cached list; the next List reloads it.
func (c *Catalog) Invalidate(ctx context.Context) error {
	c.group.Forget(skillsKey)
	return c.store.Delete(ctx, skillsKey)
}
