// Package localfs serves archive files from a directory on the local disk.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mohammed-shakir/cutout-service/internal/datalake"
)

// FS resolves every path below Root. Paths escaping Root are treated as
// missing.
type FS struct {
	Root string
}

func New(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local root %q: %w", root, err)
	}
	return &FS{Root: abs}, nil
}

func (l *FS) Name() string { return "local" }

func (l *FS) full(p string) (string, error) {
	clean := path.Clean("/" + strings.TrimPrefix(p, "file://"))
	full := filepath.Join(l.Root, filepath.FromSlash(clean))
	if full != l.Root && !strings.HasPrefix(full, l.Root+string(filepath.Separator)) {
		return "", datalake.ErrNotExist
	}
	return full, nil
}

func (l *FS) Stat(ctx context.Context, p string) (datalake.Entry, error) {
	if err := ctx.Err(); err != nil {
		return datalake.Entry{}, err
	}
	full, err := l.full(p)
	if err != nil {
		return datalake.Entry{}, err
	}
	st, err := os.Stat(full)
	if err != nil {
		return datalake.Entry{}, mapErr(err)
	}
	return datalake.Entry{Path: p, IsDir: st.IsDir(), Size: st.Size()}, nil
}

func (l *FS) ReadDir(ctx context.Context, dir string) ([]datalake.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.full(dir)
	if err != nil {
		return nil, err
	}
	des, err := os.ReadDir(full)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]datalake.Entry, 0, len(des))
	for _, de := range des {
		e := datalake.Entry{Path: path.Join(dir, de.Name()), IsDir: de.IsDir()}
		if info, err := de.Info(); err == nil {
			e.Size = info.Size()
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *FS) Open(ctx context.Context, p string) (datalake.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := l.full(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, mapErr(err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &file{File: f, size: st.Size()}, nil
}

func (l *FS) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := os.Stat(l.Root)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("local root %s is not a directory", l.Root)
	}
	return nil
}

type file struct {
	*os.File
	size int64
}

func (f *file) Size() int64 { return f.size }

func mapErr(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", datalake.ErrNotExist, err)
	}
	return err
}
