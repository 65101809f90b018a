// Package cache stores opaque byte blobs with a TTL.
//
// The mirror uses it for responses that are expensive to produce and safe to
// reuse for a while, most notably the bulk package listing, which is a single
// very large XML-RPC call. Three backends are provided:
//
//   - [FileCache]: one file per key under a directory (CLI default)
//   - [RedisCache]: shared cache for several mirror hosts
//   - [NullCache]: disables caching
//
// Keys are built with a [Keyer] so that mirrors of different indexes never
// share entries.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Cache is a byte cache with per-entry TTL. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by [Open].
const (
	BackendFile  = "file"
	BackendRedis = "redis"
	BackendNone  = "none"
)

// Options selects and configures a backend for [Open].
type Options struct {
	Backend   string
	Dir       string // file backend
	RedisAddr string // redis backend
	RedisDB   int
}

// Open creates the cache described by opts. An empty backend means "file".
func Open(opts Options) (Cache, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileCache(opts.Dir)
	case BackendRedis:
		return NewRedisCache(opts.RedisAddr, opts.RedisDB)
	case BackendNone:
		return NewNullCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

// GetJSON looks up key and decodes it into v. Undecodable entries are
// deleted and reported as a miss.
func GetJSON(ctx context.Context, c Cache, key string, v any) (bool, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		_ = c.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}
