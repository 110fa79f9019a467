// Package s3fs reads archive files from an S3 compatible object store.
// Directories are emulated through key prefixes.
package s3fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mohammed-shakir/cutout-service/internal/datalake"
)

// API is the subset of the S3 client used here.
type API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

type Config struct {
	Region string
	// Endpoint is an optional custom endpoint (MinIO, LocalStack).
	Endpoint     string
	Bucket       string
	UsePathStyle bool
}

type FS struct {
	client API
	bucket string
}

func New(ctx context.Context, cfg Config) (*FS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return NewWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket), nil
}

func NewWithClient(client API, bucket string) *FS {
	return &FS{client: client, bucket: bucket}
}

func (f *FS) Name() string { return "s3" }

// key accepts "s3://bucket/key", "/key" and "key".
func (f *FS) key(p string) string {
	if rest, ok := strings.CutPrefix(p, "s3://"); ok {
		if _, k, found := strings.Cut(rest, "/"); found {
			return strings.TrimPrefix(k, "/")
		}
		return ""
	}
	return strings.TrimPrefix(p, "/")
}

func (f *FS) Stat(ctx context.Context, p string) (datalake.Entry, error) {
	k := f.key(p)
	if k != "" && !strings.HasSuffix(k, "/") {
		out, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(f.bucket),
			Key:    aws.String(k),
		})
		if err == nil {
			return datalake.Entry{Path: p, Size: aws.ToInt64(out.ContentLength)}, nil
		}
		if !isNotFound(err) {
			return datalake.Entry{}, err
		}
	}

	out, err := f.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(f.bucket),
		Prefix:  aws.String(dirPrefix(k)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return datalake.Entry{}, err
	}
	if len(out.Contents) == 0 && len(out.CommonPrefixes) == 0 {
		return datalake.Entry{}, fmt.Errorf("%w: s3://%s/%s", datalake.ErrNotExist, f.bucket, k)
	}
	return datalake.Entry{Path: p, IsDir: true}, nil
}

func (f *FS) ReadDir(ctx context.Context, dir string) ([]datalake.Entry, error) {
	prefix := dirPrefix(f.key(dir))
	base := strings.TrimRight(dir, "/")

	var out []datalake.Entry
	paginator := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(f.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			out = append(out, datalake.Entry{Path: base + "/" + name, IsDir: true})
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue
			}
			out = append(out, datalake.Entry{Path: base + "/" + name, Size: aws.ToInt64(obj.Size)})
		}
	}
	return out, nil
}

func (f *FS) Open(ctx context.Context, p string) (datalake.File, error) {
	st, err := f.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if st.IsDir {
		return nil, fmt.Errorf("%s is a directory", p)
	}
	return &object{ctx: ctx, fs: f, key: f.key(p), size: st.Size}, nil
}

func (f *FS) Ping(ctx context.Context) error {
	_, err := f.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(f.bucket)})
	return err
}

// object serves ReadAt through ranged GETs.
type object struct {
	ctx  context.Context
	fs   *FS
	key  string
	size int64
}

func (o *object) Size() int64 { return o.size }

func (o *object) Close() error { return nil }

func (o *object) ReadAt(p []byte, off int64) (int, error) {
	if off >= o.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := off + int64(len(p)) - 1
	if end >= o.size {
		end = o.size - 1
	}
	out, err := o.fs.client.GetObject(o.ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.fs.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, err
	}
	defer out.Body.Close()

	want := int(end - off + 1)
	n, err := io.ReadFull(out.Body, p[:want])
	if err != nil {
		return n, err
	}
	if want < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func dirPrefix(k string) string {
	if k == "" || strings.HasSuffix(k, "/") {
		return k
	}
	return k + "/"
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}
