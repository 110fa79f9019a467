package datalake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/mohammed-shakir/cutout-service/internal/core/apperr"
	"github.com/mohammed-shakir/cutout-service/internal/core/observability"
)

const valueBatch = 256

// Reader fetches single rows out of Parquet files. It holds no per-request
// state and may be shared across goroutines.
type Reader struct {
	fs     FileSystem
	logger *slog.Logger
}

func NewReader(fs FileSystem, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{fs: fs, logger: logger}
}

func (r *Reader) Backend() string { return r.fs.Name() }

// FetchRow returns the first row under p matching filter, projected onto
// cols. Files are visited in lexical order, then row groups, then rows.
//
// Errors are classified as apperr NotFound (missing path or zero matches),
// StorageUnavailable (I/O failure or expired ctx) or CorruptData.
func (r *Reader) FetchRow(ctx context.Context, p string, cols []Column, filter Filter) (row Row, err error) {
	start := time.Now()
	var read int64
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = strings.ToLower(string(apperr.KindOf(err)))
		}
		observability.ObserveDatalakeRead(r.fs.Name(), outcome, time.Since(start).Seconds(), read)
	}()

	files, err := DataFiles(ctx, r.fs, p)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotExist):
			return nil, apperr.NotFound("no data at %s", p)
		case ctx.Err() != nil:
			return nil, apperr.StorageUnavailable(ctx.Err(), "list %s", p)
		default:
			return nil, apperr.StorageUnavailable(err, "list %s", p)
		}
	}

	for _, name := range files {
		res, n, err := r.scanFile(ctx, name, cols, filter)
		read += n
		if err != nil {
			return nil, err
		}
		if res != nil {
			r.logger.DebugContext(ctx, "datalake row found",
				"backend", r.fs.Name(), "file", name, "files", len(files), "bytes", read)
			return res, nil
		}
	}
	return nil, apperr.NotFound("no row matching %s under %s", filterString(filter), p)
}

func (r *Reader) scanFile(ctx context.Context, name string, cols []Column, filter Filter) (Row, int64, error) {
	fh, err := r.fs.Open(ctx, name)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, apperr.StorageUnavailable(ctx.Err(), "open %s", name)
		}
		return nil, 0, apperr.StorageUnavailable(err, "open %s", name)
	}
	defer fh.Close()

	tf := &trackedFile{File: fh}
	pf, err := parquet.OpenFile(tf, fh.Size(), parquet.SkipPageIndex(true))
	if err != nil {
		return nil, tf.n.Load(), classify(ctx, tf, err, "open parquet %s", name)
	}

	colLeaves, err := lookupAll(pf.Schema(), name, pathsOfColumns(cols))
	if err != nil {
		return nil, tf.n.Load(), err
	}
	predLeaves, err := lookupAll(pf.Schema(), name, pathsOfFilter(filter))
	if err != nil {
		return nil, tf.n.Load(), err
	}

	pruned := 0
	defer func() { observability.AddRowGroupsPruned(r.fs.Name(), pruned) }()

	for _, rg := range pf.RowGroups() {
		if rg.NumRows() == 0 {
			continue
		}
		chunks := rg.ColumnChunks()
		if excluded(chunks, predLeaves, filter) {
			pruned++
			continue
		}
		target, ok, err := firstMatch(ctx, rg, chunks, predLeaves, filter)
		if err != nil {
			return nil, tf.n.Load(), classify(ctx, tf, err, "scan %s", name)
		}
		if !ok {
			continue
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			v, err := valueAt(ctx, chunks[colLeaves[i]], target)
			if err != nil {
				return nil, tf.n.Load(), classify(ctx, tf, err, "read %s from %s", c, name)
			}
			row[c.Name] = toGo(v)
		}
		return row, tf.n.Load(), nil
	}
	return nil, tf.n.Load(), nil
}

func pathsOfColumns(cols []Column) [][]string {
	out := make([][]string, len(cols))
	for i, c := range cols {
		out[i] = c.Path
	}
	return out
}

func pathsOfFilter(f Filter) [][]string {
	out := make([][]string, len(f))
	for i, p := range f {
		out[i] = p.Path
	}
	return out
}

// lookupAll resolves leaf paths into column indexes. Repeated leaves are
// rejected since rows are addressed by value position.
func lookupAll(s *parquet.Schema, file string, paths [][]string) ([]int, error) {
	out := make([]int, len(paths))
	for i, p := range paths {
		leaf, ok := s.Lookup(p...)
		if !ok {
			return nil, apperr.CorruptData(nil, "column %s missing from %s", joinPath(p), file)
		}
		if leaf.MaxRepetitionLevel > 0 {
			return nil, apperr.CorruptData(nil, "column %s in %s is repeated", joinPath(p), file)
		}
		out[i] = leaf.ColumnIndex
	}
	return out, nil
}

// excluded reports whether a bloom filter proves that some predicate has no
// match in the row group.
func excluded(chunks []parquet.ColumnChunk, leaves []int, filter Filter) bool {
	for i, pred := range filter {
		chunk := chunks[leaves[i]]
		bf := chunk.BloomFilter()
		if bf == nil {
			continue
		}
		probe, ok := probeValue(chunk.Type().Kind(), pred.Value)
		if !ok {
			continue
		}
		hit, err := bf.Check(probe)
		if err == nil && !hit {
			return true
		}
	}
	return false
}

func probeValue(kind parquet.Kind, want any) (parquet.Value, bool) {
	switch w := want.(type) {
	case string:
		if kind == parquet.ByteArray {
			return parquet.ByteArrayValue([]byte(w)), true
		}
	case int64:
		switch kind {
		case parquet.Int64:
			return parquet.Int64Value(w), true
		case parquet.Int32:
			if int64(int32(w)) == w {
				return parquet.Int32Value(int32(w)), true
			}
		}
	}
	return parquet.Value{}, false
}

// firstMatch returns the smallest row index of the group satisfying every
// predicate.
func firstMatch(ctx context.Context, rg parquet.RowGroup, chunks []parquet.ColumnChunk, leaves []int, filter Filter) (int64, bool, error) {
	if len(filter) == 0 {
		return 0, rg.NumRows() > 0, nil
	}
	var cand []int64
	for i, pred := range filter {
		hits, err := scanChunk(ctx, chunks[leaves[i]], pred.Value)
		if err != nil {
			return 0, false, err
		}
		if i == 0 {
			cand = hits
		} else {
			cand = intersect(cand, hits)
		}
		if len(cand) == 0 {
			return 0, false, nil
		}
	}
	return cand[0], true, nil
}

// scanChunk lists the row indexes of chunk whose value equals want.
func scanChunk(ctx context.Context, chunk parquet.ColumnChunk, want any) ([]int64, error) {
	pages := chunk.Pages()
	defer pages.Close()

	buf := make([]parquet.Value, valueBatch)
	var row int64
	var hits []int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := pages.ReadPage()
		if errors.Is(err, io.EOF) {
			return hits, nil
		}
		if err != nil {
			return nil, err
		}
		vr := page.Values()
		for {
			n, err := vr.ReadValues(buf)
			for _, v := range buf[:n] {
				if matches(v, want) {
					hits = append(hits, row)
				}
				row++
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, err
			}
		}
	}
}

// valueAt returns the value of chunk at row index target. Whole pages ahead
// of the target are skipped without decoding values.
func valueAt(ctx context.Context, chunk parquet.ColumnChunk, target int64) (parquet.Value, error) {
	pages := chunk.Pages()
	defer pages.Close()

	buf := make([]parquet.Value, valueBatch)
	var base int64
	for {
		if err := ctx.Err(); err != nil {
			return parquet.Value{}, err
		}
		page, err := pages.ReadPage()
		if errors.Is(err, io.EOF) {
			return parquet.Value{}, fmt.Errorf("row %d beyond end of column chunk", target)
		}
		if err != nil {
			return parquet.Value{}, err
		}
		n := page.NumRows()
		if target >= base+n {
			base += n
			continue
		}
		vr := page.Values()
		for {
			got, err := vr.ReadValues(buf)
			if target < base+int64(got) {
				return buf[target-base].Clone(), nil
			}
			base += int64(got)
			if errors.Is(err, io.EOF) {
				return parquet.Value{}, fmt.Errorf("row %d beyond end of page", target)
			}
			if err != nil {
				return parquet.Value{}, err
			}
		}
	}
}

func matches(v parquet.Value, want any) bool {
	if v.IsNull() {
		return false
	}
	switch w := want.(type) {
	case string:
		switch v.Kind() {
		case parquet.ByteArray, parquet.FixedLenByteArray:
			return string(v.ByteArray()) == w
		}
	case int64:
		switch v.Kind() {
		case parquet.Int64:
			return v.Int64() == w
		case parquet.Int32:
			return int64(v.Int32()) == w
		}
	}
	return false
}

func intersect(a, b []int64) []int64 {
	out := a[:0]
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

func toGo(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return append([]byte(nil), v.ByteArray()...)
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.Boolean:
		return v.Boolean()
	default:
		return nil
	}
}

func classify(ctx context.Context, tf *trackedFile, err error, format string, args ...any) error {
	if ctx.Err() != nil {
		return apperr.StorageUnavailable(ctx.Err(), format, args...)
	}
	if ioErr := tf.ioErr(); ioErr != nil {
		return apperr.StorageUnavailable(ioErr, format, args...)
	}
	return apperr.CorruptData(err, format, args...)
}

func filterString(f Filter) string {
	if len(f) == 0 {
		return "any row"
	}
	parts := make([]string, len(f))
	for i, p := range f {
		parts[i] = p.String()
	}
	return strings.Join(parts, " and ")
}

func joinPath(p []string) string { return Column{Path: p}.String() }

// trackedFile counts bytes read and keeps the first transport error so that
// decode failures can be told apart from storage failures.
type trackedFile struct {
	File
	n   atomic.Int64
	mu  sync.Mutex
	err error
}

func (t *trackedFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := t.File.ReadAt(p, off)
	t.n.Add(int64(n))
	if err != nil && !errors.Is(err, io.EOF) {
		t.mu.Lock()
		if t.err == nil {
			t.err = err
		}
		t.mu.Unlock()
	}
	return n, err
}

func (t *trackedFile) ioErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
