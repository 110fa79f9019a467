package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/cutout-service/internal/core/apperr"
	"github.com/mohammed-shakir/cutout-service/internal/core/model"
	"github.com/mohammed-shakir/cutout-service/internal/core/observability"
	"github.com/mohammed-shakir/cutout-service/internal/pipeline"
	"github.com/mohammed-shakir/cutout-service/internal/schema"
)

// maximum accepted JSON body
const maxBody = 64 << 10

// Retriever runs validated cutout requests.
type Retriever interface {
	Retrieve(ctx context.Context, req model.CutoutRequest) (pipeline.CutoutResult, error)
}

// HandleCutouts serves GET and POST cutout requests for one schema. A GET
// without query parameters describes the accepted arguments instead.
func HandleCutouts(logger *slog.Logger, kind model.SchemaKind, route string, p Retriever) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, route, string(kind), sw.code, time.Since(start).Seconds())
		}()

		if r.Method == http.MethodGet && len(r.URL.Query()) == 0 {
			describe(sw, kind)
			return
		}

		req, err := ParseCutoutRequest(r, kind)
		if err != nil {
			logger.DebugContext(r.Context(), "rejected cutout request", "err", err)
			writeError(sw, err)
			return
		}

		res, err := p.Retrieve(r.Context(), req)
		if err != nil {
			writeError(sw, err)
			return
		}

		if req.Format == model.FormatFITS {
			sw.Header().Set("Content-Type", "application/octet-stream")
			sw.Header().Set("Content-Disposition", attachment(res.Filename))
			sw.Header().Set("Content-Length", strconv.Itoa(len(res.FITS)))
			sw.WriteHeader(http.StatusOK)
			_, _ = sw.Write(res.FITS)
			return
		}
		writeJSON(sw, http.StatusOK, res.Arrays)
	}
}

// attachment formats a Content-Disposition header. Names that cannot be
// encoded fall back to a bare attachment.
func attachment(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func describe(w http.ResponseWriter, kind model.SchemaKind) {
	sch, err := schema.Lookup(kind)
	if err != nil {
		writeError(w, apperr.InvalidArgument("unknown schema %q", kind))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"args": sch.Describe()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var msg string
	var ae *apperr.Error
	if errors.As(err, &ae) {
		msg = ae.Message
	} else {
		msg = err.Error()
	}
	writeJSON(w, apperr.HTTPStatus(apperr.KindOf(err)), map[string]string{
		"status": "error",
		"text":   msg,
	})
}

// params is a flat view over query parameters or a JSON object body.
type params map[string]string

// ParseCutoutRequest reads the request from the query string (GET) or a JSON
// object body (POST). Numeric identifiers may be sent as numbers or strings.
func ParseCutoutRequest(r *http.Request, kind model.SchemaKind) (model.CutoutRequest, error) {
	var (
		ps  params
		err error
	)
	if r.Method == http.MethodPost {
		ps, err = bodyParams(r)
	} else {
		ps = queryParams(r)
	}
	if err != nil {
		return model.CutoutRequest{}, err
	}

	req := model.CutoutRequest{
		Schema:      kind,
		StoragePath: ps["hdfsPath"],
		Kind:        model.StampKind(ps["kind"]),
	}
	if req.StoragePath == "" {
		return model.CutoutRequest{}, apperr.InvalidArgument("missing required parameter: hdfsPath")
	}
	if ps["kind"] == "" {
		return model.CutoutRequest{}, apperr.InvalidArgument("missing required parameter: kind")
	}
	f, ok := model.ParseReturnFormat(ps["return_type"])
	if !ok {
		return model.CutoutRequest{}, apperr.InvalidArgument("return_type must be array or FITS (got %q)", ps["return_type"])
	}
	req.Format = f

	switch kind {
	case model.SchemaLSST:
		if v := ps["diaSourceId"]; v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return model.CutoutRequest{}, apperr.InvalidArgument("diaSourceId must be an integer (got %q)", v)
			}
			req.SourceID, req.HasSourceID = id, true
		}
	default:
		req.ObjectID = ps["objectId"]
		if v := ps["candid"]; v != "" {
			c, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return model.CutoutRequest{}, apperr.InvalidArgument("candid must be an integer (got %q)", v)
			}
			req.Candid = &c
		}
	}
	return req, nil
}

func queryParams(r *http.Request) params {
	q := r.URL.Query()
	out := make(params, len(q))
	for k := range q {
		out[k] = strings.TrimSpace(q.Get(k))
	}
	return out
}

func bodyParams(r *http.Request) (params, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return nil, apperr.InvalidArgument("read request body: %v", err)
	}
	if len(body) > maxBody {
		return nil, apperr.InvalidArgument("request body exceeds %d bytes", maxBody)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, apperr.InvalidArgument("request body must be a JSON object: %v", err)
	}
	out := make(params, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = strings.TrimSpace(t)
		case json.Number:
			out[k] = t.String()
		case nil:
		default:
			return nil, apperr.InvalidArgument("parameter %s must be a string or number", k)
		}
	}
	return out, nil
}
