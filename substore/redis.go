package substore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "substore:"
	redisIndexKey  = "substore:index"
)

// RedisStore is a Redis-backed durable-subscription store, for brokers that
// already run a shared cache/session tier and want subscription state
// there instead of a local Pebble file.
type RedisStore struct {
	client *redis.Client
	mu     sync.RWMutex
	closed bool
	ttl    time.Duration
}

type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Options  *redis.Options
}

func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	var client *redis.Client
	if cfg.Options != nil {
		client = redis.NewClient(cfg.Options)
	} else {
		client = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

func redisKey(k Key) string {
	return redisKeyPrefix + keyString(k)
}

func (r *RedisStore) Save(ctx context.Context, rec *Record) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrStoreClosed
	}
	r.mu.RUnlock()

	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := redisKey(rec.Key)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, value, r.ttl)
	pipe.SAdd(ctx, redisIndexKey, key)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Load(ctx context.Context, key Key) (*Record, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	r.mu.RUnlock()

	value, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RedisStore) Delete(ctx context.Context, key Key) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrStoreClosed
	}
	r.mu.RUnlock()

	k := redisKey(key)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, k)
	pipe.SRem(ctx, redisIndexKey, k)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Exists(ctx context.Context, key Key) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return false, ErrStoreClosed
	}
	r.mu.RUnlock()

	n, err := r.client.Exists(ctx, redisKey(key)).Result()
	return n > 0, err
}

func (r *RedisStore) ListByDestination(ctx context.Context, destinationURI string) ([]*Record, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	r.mu.RUnlock()

	keys, err := r.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, err
	}
	var out []*Record
	for _, k := range keys {
		value, err := r.client.Get(ctx, k).Bytes()
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(value, &rec); err != nil {
			continue
		}
		if rec.Key.DestinationURI == destinationURI {
			out = append(out, &rec)
		}
	}
	return out, nil
}

func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrStoreClosed
	}
	r.closed = true
	return r.client.Close()
}
