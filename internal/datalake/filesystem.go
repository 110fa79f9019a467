// Package datalake reads single rows out of Parquet alert archives stored on
// a remote filesystem.
package datalake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

var ErrNotExist = errors.New("path does not exist")

type File interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

type Entry struct {
	Path  string
	IsDir bool
	Size  int64
}

// FileSystem is a shared, long-lived handle on the archive storage.
// Implementations must be safe for concurrent use.
type FileSystem interface {
	Name() string
	Stat(ctx context.Context, p string) (Entry, error)
	ReadDir(ctx context.Context, dir string) ([]Entry, error)
	Open(ctx context.Context, p string) (File, error)
	Ping(ctx context.Context) error
}

// maximum directory depth followed below a storage path (year=/month=/day=)
const maxListDepth = 4

// DataFiles resolves p into the data files to scan: p itself when it is a
// file, otherwise every visible file below it in lexical order. Entries whose
// base name starts with "_" or "." (_SUCCESS, .crc) are skipped.
func DataFiles(ctx context.Context, fs FileSystem, p string) ([]string, error) {
	st, err := fs.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if !st.IsDir {
		return []string{st.Path}, nil
	}
	var out []string
	if err := walk(ctx, fs, st.Path, 0, &out); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func walk(ctx context.Context, fs FileSystem, dir string, depth int, out *[]string) error {
	if depth > maxListDepth {
		return nil
	}
	entries, err := fs.ReadDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	for _, e := range entries {
		if hidden(e.Path) {
			continue
		}
		if e.IsDir {
			if err := walk(ctx, fs, e.Path, depth+1, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, e.Path)
	}
	return nil
}

func hidden(p string) bool {
	base := path.Base(strings.TrimRight(p, "/"))
	return strings.HasPrefix(base, "_") || strings.HasPrefix(base, ".")
}
