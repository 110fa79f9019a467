package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestSetMGetDel_HappyPath_AndMGetFiltersMissing(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "k1", []byte("v1"), 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := rc.MSetWithTTL(ctx, map[string][]byte{"k2": []byte("v2")}, time.Minute); err != nil {
		t.Fatalf("MSetWithTTL: %v", err)
	}

	got, err := rc.MGet(ctx, []string{"k1", "k2", "missing"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("MGet size=%d want 2", len(got))
	}
	if string(got["k1"]) != "v1" || string(got["k2"]) != "v2" {
		t.Fatalf("unexpected values: %+v", got)
	}

	if err := rc.Del(ctx, "k1", "k2"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	got, _ = rc.MGet(ctx, []string{"k1", "k2"})
	if len(got) != 0 {
		t.Fatalf("expected keys gone after Del; got %v", got)
	}
}

func TestDeletePrefix_RemovesOnlyMatchingKeys(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	for i := 0; i < 1200; i++ {
		_ = mr.Set(fmt.Sprintf("cutout:ztf:00aa:ZTF%d:cutoutScience", i), "x")
	}
	_ = mr.Set("cutout:ztf:00bb:ZTF1:cutoutScience", "keep")
	_ = mr.Set("cutout:lsst:00aa:1:cutoutScience", "keep")

	n, err := rc.DeletePrefix(ctx, "cutout:ztf:00aa:")
	if err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if n != 1200 {
		t.Fatalf("deleted=%d want 1200", n)
	}
	if !mr.Exists("cutout:ztf:00bb:ZTF1:cutoutScience") || !mr.Exists("cutout:lsst:00aa:1:cutoutScience") {
		t.Fatalf("unrelated keys were deleted")
	}
	if got := len(mr.Keys()); got != 2 {
		t.Fatalf("remaining keys=%d want 2", got)
	}
}

func TestContextDeadline_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected error on Set with canceled context")
	}
	if _, err := rc.MGet(ctx, []string{"k"}); err == nil {
		t.Fatalf("expected error on MGet with canceled context")
	}
	if err := rc.Del(ctx, "k"); err == nil {
		t.Fatalf("expected error on Del with canceled context")
	}
	if _, err := rc.DeletePrefix(ctx, "k"); err == nil {
		t.Fatalf("expected error on DeletePrefix with canceled context")
	}
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob(`a*b?[c]\`); got != `a\*b\?\[c\]\\` {
		t.Fatalf("got %q", got)
	}
}
