// Package schema maps a logical cutout request onto the column layout of a
// survey's alert archive.
package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mohammed-shakir/cutout-service/internal/core/apperr"
	"github.com/mohammed-shakir/cutout-service/internal/core/model"
	"github.com/mohammed-shakir/cutout-service/internal/datalake"
)

type Schema interface {
	Kind() model.SchemaKind

	// Resolve returns the projected columns, identifier column first, and
	// the row filter for req.
	Resolve(req model.CutoutRequest) ([]datalake.Column, datalake.Filter, error)

	// Payload extracts the stamp bytes of a stamp column from a fetched row.
	Payload(row datalake.Row, col datalake.Column) ([]byte, error)

	// Compressed reports whether payloads carry a gzip envelope.
	Compressed() bool

	// Describe lists the accepted request arguments.
	Describe() []model.ArgSpec
}

var (
	mu  sync.RWMutex
	reg = map[model.SchemaKind]Schema{}
)

func Register(s Schema) {
	mu.Lock()
	defer mu.Unlock()
	reg[s.Kind()] = s
}

func Lookup(kind model.SchemaKind) (Schema, error) {
	mu.RLock()
	defer mu.RUnlock()
	if s, ok := reg[kind]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("no schema registered for %q", kind)
}

func Kinds() []model.SchemaKind {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]model.SchemaKind, 0, len(reg))
	for k := range reg {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// stampColumns expands kind into the stamp columns to read, in order.
func stampColumns(kind model.StampKind, leaf func(name string) []string) ([]datalake.Column, error) {
	var kinds []model.StampKind
	switch {
	case kind == model.StampAll:
		kinds = model.SingleStampKinds
	case kind.Valid():
		kinds = []model.StampKind{kind}
	default:
		return nil, apperr.InvalidArgument("kind must be one of Science, Template, Difference, All (got %q)", kind)
	}
	cols := make([]datalake.Column, 0, len(kinds))
	for _, k := range kinds {
		name := k.Column()
		cols = append(cols, datalake.Column{Name: name, Path: leaf(name)})
	}
	return cols, nil
}

func bytesCell(row datalake.Row, col datalake.Column) ([]byte, error) {
	v, ok := row[col.Name]
	if !ok {
		return nil, apperr.CorruptData(nil, "row has no column %s", col)
	}
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	case nil:
		return nil, apperr.CorruptData(nil, "stamp column %s is null", col)
	default:
		return nil, apperr.CorruptData(nil, "stamp column %s holds %T, want binary", col, v)
	}
}

var commonArgs = struct {
	path, kind, format model.ArgSpec
}{
	path: model.ArgSpec{
		Name:        "hdfsPath",
		Required:    true,
		Description: "Data path on HDFS",
	},
	kind: model.ArgSpec{
		Name:        "kind",
		Required:    true,
		Description: "Science, Template, Difference, or All",
	},
	format: model.ArgSpec{
		Name:        "return_type",
		Required:    false,
		Description: "Returned type among `array` or `FITS`. If not provided, `array` is chosen.",
	},
}
