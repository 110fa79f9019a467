// Package lrustore is the process-local cache tier.
package lrustore

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mohammed-shakir/cutout-service/internal/core/observability"
)

const tier = "lru"

// Store keeps at most size entries, each expiring ttl after insertion. The
// per-call ttl of MSetWithTTL is ignored; expiry is fixed at construction.
type Store struct {
	lru *expirable.LRU[string, []byte]
}

func New(size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = 1024
	}
	return &Store{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (s *Store) Name() string { return tier }

func (s *Store) MGet(_ context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := s.lru.Get(k); ok {
			out[k] = v
		}
	}
	observability.ObserveCacheOp("mget", tier, nil, time.Since(start).Seconds())
	observability.AddCacheHits(tier, len(out))
	observability.AddCacheMisses(tier, len(keys)-len(out))
	return out, nil
}

func (s *Store) MSetWithTTL(_ context.Context, kv map[string][]byte, _ time.Duration) error {
	start := time.Now()
	for k, v := range kv {
		s.lru.Add(k, v)
	}
	observability.ObserveCacheOp("mset", tier, nil, time.Since(start).Seconds())
	return nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.lru.Remove(k)
	}
	observability.ObserveCacheOp("del", tier, nil, 0)
	return nil
}

func (s *Store) DeletePrefix(_ context.Context, prefix string) (int, error) {
	start := time.Now()
	n := 0
	for _, k := range s.lru.Keys() {
		if strings.HasPrefix(k, prefix) && s.lru.Remove(k) {
			n++
		}
	}
	observability.ObserveCacheOp("del_prefix", tier, nil, time.Since(start).Seconds())
	return n, nil
}

func (s *Store) Len() int { return s.lru.Len() }

func (s *Store) Close() error {
	s.lru.Purge()
	return nil
}
