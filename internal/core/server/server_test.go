package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/cutout-service/internal/core/config"
	"github.com/mohammed-shakir/cutout-service/internal/core/model"
	"github.com/mohammed-shakir/cutout-service/internal/pipeline"
)

type recordingRetriever struct{ schemas []model.SchemaKind }

func (r *recordingRetriever) Retrieve(_ context.Context, req model.CutoutRequest) (pipeline.CutoutResult, error) {
	r.schemas = append(r.schemas, req.Schema)
	return pipeline.CutoutResult{}, nil
}

func TestRoutes_SchemaPerPrefix(t *testing.T) {
	cfg := config.FromEnv()
	cfg.Schema = "lsst"
	rr := &recordingRetriever{}
	srv := httptest.NewServer(NewHandler(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), Deps{Retriever: rr}))
	t.Cleanup(srv.Close)

	body := `{"hdfsPath":"/p","objectId":"ZTF1","diaSourceId":1,"kind":"Science"}`
	for _, route := range []string{"/api/v1/cutouts", "/api/v1/ztf/cutouts", "/api/v1/lsst/cutouts"} {
		resp, err := http.Post(srv.URL+route, "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post %s: %v", route, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status=%d", route, resp.StatusCode)
		}
	}
	want := []model.SchemaKind{model.SchemaLSST, model.SchemaZTF, model.SchemaLSST}
	for i := range want {
		if rr.schemas[i] != want[i] {
			t.Fatalf("schemas=%v want %v", rr.schemas, want)
		}
	}
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	srv := httptest.NewServer(NewHandler(config.FromEnv(), slog.New(slog.NewTextHandler(io.Discard, nil)), Deps{}))
	t.Cleanup(srv.Close)

	for path, code := range map[string]int{"/healthz": 200, "/readyz": 200, "/metrics": 200, "/nope": 404} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != code {
			t.Fatalf("%s: status=%d want %d", path, resp.StatusCode, code)
		}
		if id := resp.Header.Get("X-Request-ID"); id == "" {
			t.Fatalf("%s: missing X-Request-ID", path)
		}
	}
}
