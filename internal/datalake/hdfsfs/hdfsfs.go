// Package hdfsfs reads archive files from HDFS through the native namenode
// and datanode protocols.
package hdfsfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/colinmarc/hdfs/v2"

	"github.com/mohammed-shakir/cutout-service/internal/datalake"
)

type Config struct {
	Host string
	Port int
	User string
}

func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// FS wraps one long-lived client; it is opened at startup and shared by all
// requests.
type FS struct {
	client *hdfs.Client
	addr   string
}

func New(cfg Config) (*FS, error) {
	if cfg.Host == "" {
		return nil, errors.New("hdfs host is required")
	}
	opts := hdfs.ClientOptions{Addresses: []string{cfg.Address()}, User: cfg.User}
	client, err := hdfs.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("connect hdfs %s: %w", cfg.Address(), err)
	}
	return &FS{client: client, addr: cfg.Address()}, nil
}

func (f *FS) Name() string { return "hdfs" }

func (f *FS) Close() error { return f.client.Close() }

// name strips an hdfs://host:port prefix; values without a scheme are used
// as absolute namespace paths.
func name(p string) string {
	if rest, ok := strings.CutPrefix(p, "hdfs://"); ok {
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return rest[i:]
		}
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func (f *FS) Stat(ctx context.Context, p string) (datalake.Entry, error) {
	fi, err := await(ctx, func() (os.FileInfo, error) { return f.client.Stat(name(p)) })
	if err != nil {
		return datalake.Entry{}, mapErr(err)
	}
	return datalake.Entry{Path: p, IsDir: fi.IsDir(), Size: fi.Size()}, nil
}

func (f *FS) ReadDir(ctx context.Context, dir string) ([]datalake.Entry, error) {
	infos, err := await(ctx, func() ([]os.FileInfo, error) { return f.client.ReadDir(name(dir)) })
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]datalake.Entry, 0, len(infos))
	for _, fi := range infos {
		out = append(out, datalake.Entry{
			Path:  path.Join(dir, fi.Name()),
			IsDir: fi.IsDir(),
			Size:  fi.Size(),
		})
	}
	return out, nil
}

func (f *FS) Open(ctx context.Context, p string) (datalake.File, error) {
	r, err := awaitOwned(ctx,
		func() (*hdfs.FileReader, error) { return f.client.Open(name(p)) },
		func(r *hdfs.FileReader) { _ = r.Close() })
	if err != nil {
		return nil, mapErr(err)
	}
	if dl, ok := ctx.Deadline(); ok {
		if err := r.SetDeadline(dl); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	return &file{FileReader: r}, nil
}

// Ping stats the namespace root.
func (f *FS) Ping(ctx context.Context) error {
	_, err := await(ctx, func() (os.FileInfo, error) { return f.client.Stat("/") })
	return err
}

type file struct {
	*hdfs.FileReader
}

func (f *file) Size() int64 { return f.Stat().Size() }

// await runs a namenode call that has no context support and gives up when
// ctx ends first. The call itself keeps running to completion.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return awaitOwned(ctx, fn, nil)
}

// awaitOwned is await for calls returning a resource. When the caller has
// given up, release receives the value of a call that still succeeds.
func awaitOwned[T any](ctx context.Context, fn func() (T, error), release func(T)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		if release != nil {
			go func() {
				if r := <-ch; r.err == nil {
					release(r.v)
				}
			}()
		}
		return zero, ctx.Err()
	}
}

func mapErr(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", datalake.ErrNotExist, err)
	}
	return err
}
