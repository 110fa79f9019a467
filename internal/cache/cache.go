// Package cache stores raw stamp payloads between requests so that repeated
// cutouts of the same alert skip the archive read.
package cache

import (
	"context"
	"time"
)

type Interface interface {
	// Name labels metrics and logs, e.g. "lru" or "redis".
	Name() string
	// MGet returns the found keys only.
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	MSetWithTTL(ctx context.Context, kv map[string][]byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// DeletePrefix removes every key starting with prefix and reports how
	// many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Name() string { return "none" }

func (Nop) MGet(context.Context, []string) (map[string][]byte, error) {
	return map[string][]byte{}, nil
}

func (Nop) MSetWithTTL(context.Context, map[string][]byte, time.Duration) error { return nil }

func (Nop) Del(context.Context, ...string) error { return nil }

func (Nop) DeletePrefix(context.Context, string) (int, error) { return 0, nil }

func (Nop) Close() error { return nil }
