package redisstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/cutout-service/internal/core/observability"
	"github.com/mohammed-shakir/cutout-service/internal/metrics"
)

func Test_RedisMetrics_MGet_HitMiss(t *testing.T) {
	mr, _ := miniredis.Run()
	defer mr.Close()

	p := metrics.Init(metrics.Config{})
	observability.Init(p.Registerer(), true)
	t.Cleanup(func() { observability.Init(nil, true) })

	ctx := context.Background()
	c, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("new redis: %v", err)
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			t.Fatalf("close redis client: %v", cerr)
		}
	}()

	_ = c.Set(ctx, "k:hit", []byte("v"), time.Minute)
	_, _ = c.MGet(ctx, []string{"k:hit", "k:miss"})
	_ = c.Del(ctx, "k:hit")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	body := rr.Body.String()

	for _, want := range []string{
		`cache_op_total{op="set",result="ok",tier="redis"} 1`,
		`cache_op_total{op="mget",result="ok",tier="redis"} 1`,
		`cache_op_total{op="del",result="ok",tier="redis"} 1`,
		`cache_operation_duration_seconds_count{op="mget",tier="redis"} 1`,
		`cutout_cache_hits_total{tier="redis"} 1`,
		`cutout_cache_misses_total{tier="redis"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q\n%s", want, body)
		}
	}
}
