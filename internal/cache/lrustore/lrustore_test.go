package lrustore

import (
	"context"
	"testing"
	"time"
)

func TestStore_MGetFiltersMissing(t *testing.T) {
	s := New(8, time.Minute)
	ctx := context.Background()
	_ = s.MSetWithTTL(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, 0)

	got, err := s.MGet(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 || string(got["a"]) != "1" || string(got["b"]) != "2" {
		t.Fatalf("unexpected values: %v", got)
	}
}

func TestStore_EvictsOldest(t *testing.T) {
	s := New(2, time.Minute)
	ctx := context.Background()
	_ = s.MSetWithTTL(ctx, map[string][]byte{"a": []byte("1")}, 0)
	_ = s.MSetWithTTL(ctx, map[string][]byte{"b": []byte("2")}, 0)
	_ = s.MSetWithTTL(ctx, map[string][]byte{"c": []byte("3")}, 0)

	got, _ := s.MGet(ctx, []string{"a", "b", "c"})
	if _, ok := got["a"]; ok || len(got) != 2 {
		t.Fatalf("expected a evicted; got %v", got)
	}
}

func TestStore_DeletePrefix(t *testing.T) {
	s := New(16, time.Minute)
	ctx := context.Background()
	_ = s.MSetWithTTL(ctx, map[string][]byte{
		"cutout:ztf:aa:1:cutoutScience":  nil,
		"cutout:ztf:aa:1:cutoutTemplate": nil,
		"cutout:ztf:bb:1:cutoutScience":  nil,
	}, 0)

	n, err := s.DeletePrefix(ctx, "cutout:ztf:aa:")
	if err != nil || n != 2 {
		t.Fatalf("got n=%d err=%v want 2, nil", n, err)
	}
	if s.Len() != 1 {
		t.Fatalf("len=%d want 1", s.Len())
	}
}

func TestStore_Expiry(t *testing.T) {
	s := New(4, 20*time.Millisecond)
	ctx := context.Background()
	_ = s.MSetWithTTL(ctx, map[string][]byte{"a": []byte("1")}, 0)
	time.Sleep(60 * time.Millisecond)
	if got, _ := s.MGet(ctx, []string{"a"}); len(got) != 0 {
		t.Fatalf("expected expiry; got %v", got)
	}
}
