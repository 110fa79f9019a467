package cache

import (
	"context"
	"errors"
	"time"

	"github.com/golang/snappy"
)

// Tiered reads through a process-local near tier into a shared far tier,
// backfilling near with far hits.
type Tiered struct {
	near, far Interface
	ttl       time.Duration
}

func NewTiered(near, far Interface, backfillTTL time.Duration) *Tiered {
	return &Tiered{near: near, far: far, ttl: backfillTTL}
}

func (t *Tiered) Name() string { return t.near.Name() + "+" + t.far.Name() }

// MGet returns near hits even when the far tier fails; the error is then
// the far tier's.
func (t *Tiered) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out, err := t.near.MGet(ctx, keys)
	if err != nil || out == nil {
		out = map[string][]byte{}
	}
	var missing []string
	for _, k := range keys {
		if _, ok := out[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}
	far, err := t.far.MGet(ctx, missing)
	if err != nil {
		return out, err
	}
	if len(far) > 0 {
		_ = t.near.MSetWithTTL(ctx, far, t.ttl)
	}
	for k, v := range far {
		out[k] = v
	}
	return out, nil
}

func (t *Tiered) MSetWithTTL(ctx context.Context, kv map[string][]byte, ttl time.Duration) error {
	return errors.Join(t.near.MSetWithTTL(ctx, kv, ttl), t.far.MSetWithTTL(ctx, kv, ttl))
}

func (t *Tiered) Del(ctx context.Context, keys ...string) error {
	return errors.Join(t.near.Del(ctx, keys...), t.far.Del(ctx, keys...))
}

func (t *Tiered) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	n1, err1 := t.near.DeletePrefix(ctx, prefix)
	n2, err2 := t.far.DeletePrefix(ctx, prefix)
	return n1 + n2, errors.Join(err1, err2)
}

func (t *Tiered) Close() error {
	return errors.Join(t.near.Close(), t.far.Close())
}

// Snappy compresses values on the way into inner. Entries that fail to
// decode are reported as misses.
type Snappy struct {
	Interface
}

func WithSnappy(inner Interface) *Snappy { return &Snappy{Interface: inner} }

func (s *Snappy) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	raw, err := s.Interface.MGet(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(raw))
	for k, v := range raw {
		dec, err := snappy.Decode(nil, v)
		if err != nil {
			continue
		}
		out[k] = dec
	}
	return out, nil
}

func (s *Snappy) MSetWithTTL(ctx context.Context, kv map[string][]byte, ttl time.Duration) error {
	enc := make(map[string][]byte, len(kv))
	for k, v := range kv {
		enc[k] = snappy.Encode(nil, v)
	}
	return s.Interface.MSetWithTTL(ctx, enc, ttl)
}
