// Package pipeline turns a cutout request into decoded stamps: schema
// resolution, cache lookup, one archive read, decode.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mohammed-shakir/cutout-service/internal/cache"
	"github.com/mohammed-shakir/cutout-service/internal/cache/keys"
	"github.com/mohammed-shakir/cutout-service/internal/core/apperr"
	"github.com/mohammed-shakir/cutout-service/internal/core/model"
	"github.com/mohammed-shakir/cutout-service/internal/core/observability"
	"github.com/mohammed-shakir/cutout-service/internal/datalake"
	mylog "github.com/mohammed-shakir/cutout-service/internal/logger"
	"github.com/mohammed-shakir/cutout-service/internal/schema"
	"github.com/mohammed-shakir/cutout-service/internal/stamp"
)

// RowFetcher is satisfied by *datalake.Reader.
type RowFetcher interface {
	FetchRow(ctx context.Context, path string, cols []datalake.Column, filter datalake.Filter) (datalake.Row, error)
}

type Options struct {
	// Cache is optional; nil disables caching.
	Cache          cache.Interface
	CacheTTL       time.Duration
	CacheOpTimeout time.Duration
	// FetchTimeout bounds the archive read; zero means no bound beyond ctx.
	FetchTimeout time.Duration
	Logger       *slog.Logger
}

type CutoutResult struct {
	// Arrays holds one image per stamp column, in selection order.
	Arrays []stamp.Pixels
	// FITS and Filename are set for FormatFITS.
	FITS     []byte
	Filename string
}

type Pipeline struct {
	fetcher RowFetcher
	opts    Options
}

func New(fetcher RowFetcher, opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	return &Pipeline{fetcher: fetcher, opts: opts}
}

// Retrieve runs one cutout request. Errors carry an apperr kind; the first
// failure aborts the request and no partial result is returned.
func (p *Pipeline) Retrieve(ctx context.Context, req model.CutoutRequest) (res CutoutResult, err error) {
	start := time.Now()
	if req.Format == "" {
		req.Format = model.FormatArray
	}
	ctx = mylog.WithSchema(ctx, string(req.Schema))
	defer func() {
		outcome, level := "ok", slog.LevelInfo
		if err != nil {
			kind := apperr.KindOf(err)
			outcome = strings.ToLower(string(kind))
			if kind != apperr.KindNotFound {
				level = slog.LevelError
			}
		}
		observability.ObserveCutout(string(req.Schema), string(req.Kind), string(req.Format), outcome, time.Since(start).Seconds())
		// request-shape errors are reported by the HTTP layer
		if err != nil && apperr.KindOf(err) == apperr.KindInvalidArgument {
			return
		}
		attrs := []any{"path", req.StoragePath, "id", req.Identifier(), "kind", string(req.Kind),
			"format", string(req.Format), "outcome", outcome, "duration", time.Since(start)}
		if err != nil {
			attrs = append(attrs, "err", err)
		}
		p.opts.Logger.Log(ctx, level, "cutout retrieval", attrs...)
	}()

	sch, err := validate(req)
	if err != nil {
		return CutoutResult{}, err
	}
	cols, filter, err := sch.Resolve(req)
	if err != nil {
		return CutoutResult{}, err
	}
	stampCols := cols[1:]

	payloads, err := p.payloads(ctx, sch, req, cols, filter)
	if err != nil {
		return CutoutResult{}, err
	}

	for _, col := range stampCols {
		dstart := time.Now()
		st, err := stamp.Decode(payloads[col.Name], req.Format, sch.Compressed())
		observability.ObserveDecode(string(req.Format), err, time.Since(dstart).Seconds())
		if err != nil {
			return CutoutResult{}, err
		}
		if req.Format == model.FormatFITS {
			res.FITS = st.FITS
			res.Filename = req.Identifier() + ".fits"
			continue
		}
		res.Arrays = append(res.Arrays, *st.Pixels)
	}
	return res, nil
}

// validate checks everything that must fail before any read.
func validate(req model.CutoutRequest) (schema.Schema, error) {
	if !req.Kind.Valid() {
		return nil, apperr.InvalidArgument("kind must be one of Science, Template, Difference, All (got %q)", req.Kind)
	}
	switch req.Format {
	case model.FormatArray, model.FormatFITS:
	default:
		return nil, apperr.InvalidArgument("return_type must be array or FITS (got %q)", req.Format)
	}
	if req.Format == model.FormatFITS && req.Kind == model.StampAll {
		return nil, apperr.InvalidArgument("FITS format not allowed with kind=All")
	}
	sch, err := schema.Lookup(req.Schema)
	if err != nil {
		return nil, apperr.InvalidArgument("unknown schema %q", req.Schema)
	}
	if strings.TrimSpace(req.StoragePath) == "" {
		return nil, apperr.InvalidArgument("missing required parameter: hdfsPath")
	}
	return sch, nil
}

// payloads returns raw stamp bytes per stamp column. The archive is read at
// most once, and only when some stamp is not cached.
func (p *Pipeline) payloads(ctx context.Context, sch schema.Schema, req model.CutoutRequest, cols []datalake.Column, filter datalake.Filter) (map[string][]byte, error) {
	stampCols := cols[1:]
	keyOf := make(map[string]string, len(stampCols))
	ks := make([]string, 0, len(stampCols))
	for _, c := range stampCols {
		k := keys.StampKey(string(req.Schema), req.StoragePath, req.Identifier(), req.Candid, c.Name)
		keyOf[c.Name] = k
		ks = append(ks, k)
	}

	cached := p.cacheGet(ctx, ks)
	out := make(map[string][]byte, len(stampCols))
	for _, c := range stampCols {
		if b, ok := cached[keyOf[c.Name]]; ok && len(b) > 0 {
			out[c.Name] = b
		}
	}
	switch {
	case len(out) == len(stampCols):
		p.opts.Logger.DebugContext(mylog.WithCacheOutcome(ctx, "hit"), "stamps served from cache",
			"tier", p.opts.Cache.Name(), "stamps", len(out))
		return out, nil
	case len(out) > 0:
		ctx = mylog.WithCacheOutcome(ctx, "partial")
	default:
		ctx = mylog.WithCacheOutcome(ctx, "miss")
	}

	fctx := ctx
	if p.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, p.opts.FetchTimeout)
		defer cancel()
	}
	row, err := p.fetcher.FetchRow(fctx, req.StoragePath, cols, filter)
	if err != nil {
		if fctx.Err() != nil && apperr.KindOf(err) == apperr.KindInternal {
			return nil, apperr.StorageUnavailable(err, "fetch %s", req.StoragePath)
		}
		return nil, err
	}

	fresh := make(map[string][]byte, len(stampCols))
	for _, c := range stampCols {
		b, err := sch.Payload(row, c)
		if err != nil {
			return nil, err
		}
		out[c.Name] = b
		fresh[keyOf[c.Name]] = b
	}
	p.cacheSet(ctx, fresh)
	return out, nil
}

// Cache failures degrade to misses; they never fail a request.
func (p *Pipeline) cacheGet(ctx context.Context, ks []string) map[string][]byte {
	cctx, cancel := p.cacheCtx(ctx)
	defer cancel()
	got, err := p.opts.Cache.MGet(cctx, ks)
	if err != nil {
		p.opts.Logger.WarnContext(ctx, "cache lookup failed", "tier", p.opts.Cache.Name(), "err", err)
	}
	return got
}

func (p *Pipeline) cacheSet(ctx context.Context, kv map[string][]byte) {
	if len(kv) == 0 {
		return
	}
	cctx, cancel := p.cacheCtx(ctx)
	defer cancel()
	if err := p.opts.Cache.MSetWithTTL(cctx, kv, p.opts.CacheTTL); err != nil {
		p.opts.Logger.WarnContext(ctx, "cache store failed", "tier", p.opts.Cache.Name(), "err", err)
	}
}

func (p *Pipeline) cacheCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.CacheOpTimeout > 0 {
		return context.WithTimeout(ctx, p.opts.CacheOpTimeout)
	}
	return context.WithCancel(ctx)
}
