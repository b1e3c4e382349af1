package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sdejongh/kopier/pkg/metrics"
	"github.com/sdejongh/kopier/pkg/ratelimit"
)

// SchemeS3 is the scheme served by the S3 backend; the URL host is the bucket
const SchemeS3 = "s3"

// S3Config holds connection settings for S3 compatible storage
type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// s3API is the part of the S3 client the backend uses
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 is the s3:// backend. Objects are files; directories are key prefixes,
// materialized as empty "prefix/" marker objects when created.
type S3 struct {
	client  s3API
	limiter *ratelimit.Limiter
}

// NewS3 creates an S3 backend
func NewS3(ctx context.Context, cfg S3Config, limiter *ratelimit.Limiter) (*S3, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3{client: client, limiter: limiter}, nil
}

func newS3WithClient(client s3API) *S3 {
	return &S3{client: client}
}

func s3Key(u url.URL) string {
	if u.Path == "" {
		return ""
	}
	key := strings.TrimPrefix(path.Clean(u.Path), "/")
	if key == "." {
		return ""
	}
	return key
}

func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return key + "/"
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

func (b *S3) record(op string, start time.Time, err error) {
	metrics.RecordBackendOperation(SchemeS3, op, time.Since(start), err == nil || isNotFound(err))
}

func (b *S3) wrap(op string, u url.URL, err error) error {
	switch {
	case err == nil:
		return nil
	case isNotFound(err):
		return NewError(op, u, KindNotExist, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewError(op, u, KindCancelled, err)
	}
	return NewError(op, u, KindOther, err)
}

func (b *S3) head(ctx context.Context, bucket, key string) (*s3.HeadObjectOutput, error) {
	start := time.Now()
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	b.record("head_object", start, err)
	return out, err
}

// hasChildren reports whether any object lives below prefix, other than the marker itself
func (b *S3) hasChildren(ctx context.Context, bucket, prefix string) (bool, error) {
	start := time.Now()
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(2),
	})
	b.record("list_objects", start, err)
	if err != nil {
		return false, err
	}
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) != prefix {
			return true, nil
		}
	}
	return false, nil
}

// isDir reports whether key is a directory: a marker object or a non-empty prefix
func (b *S3) isDir(ctx context.Context, bucket, key string) (bool, error) {
	if key == "" {
		return true, nil
	}
	if _, err := b.head(ctx, bucket, dirPrefix(key)); err == nil {
		return true, nil
	} else if !isNotFound(err) {
		return false, err
	}
	return b.hasChildren(ctx, bucket, dirPrefix(key))
}

// Stat returns the object or directory at u
func (b *S3) Stat(ctx context.Context, u url.URL) (Entry, error) {
	key := s3Key(u)
	name := path.Base("/" + key)
	if key == "" {
		name = u.Host
	}

	if key != "" {
		out, err := b.head(ctx, u.Host, key)
		if err == nil {
			entry := Entry{Name: name, Size: aws.ToInt64(out.ContentLength), Permissions: -1}
			if out.LastModified != nil {
				entry.ModTime = *out.LastModified
			}
			return entry, nil
		}
		if !isNotFound(err) {
			return Entry{}, b.wrap("stat", u, err)
		}
	}

	dir, err := b.isDir(ctx, u.Host, key)
	if err != nil {
		return Entry{}, b.wrap("stat", u, err)
	}
	if !dir {
		return Entry{}, NewError("stat", u, KindNotExist, nil)
	}
	return Entry{Name: name, IsDir: true, Permissions: -1}, nil
}

// List walks every object below u. Directories without a marker object are
// reported once, before their first child.
func (b *S3) List(ctx context.Context, u url.URL, fn func([]Entry) error) error {
	prefix := dirPrefix(s3Key(u))
	seen := make(map[string]bool)

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(u.Host),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		start := time.Now()
		page, err := paginator.NextPage(ctx)
		b.record("list_objects", start, err)
		if err != nil {
			return b.wrap("list", u, err)
		}

		batch := make([]Entry, 0, len(page.Contents))
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if rel == "" {
				continue
			}

			marker := strings.HasSuffix(rel, "/")
			rel = strings.TrimSuffix(rel, "/")

			// implicit parents
			parts := strings.Split(rel, "/")
			for i := 1; i < len(parts); i++ {
				dir := strings.Join(parts[:i], "/")
				if !seen[dir] {
					seen[dir] = true
					batch = append(batch, Entry{Name: parts[i-1], RelPath: dir, IsDir: true, Permissions: -1})
				}
			}

			if marker {
				if seen[rel] {
					continue
				}
				seen[rel] = true
				batch = append(batch, Entry{Name: path.Base(rel), RelPath: rel, IsDir: true, Permissions: -1})
				continue
			}

			entry := Entry{
				Name:        path.Base(rel),
				RelPath:     rel,
				Size:        aws.ToInt64(obj.Size),
				Permissions: -1,
			}
			if obj.LastModified != nil {
				entry.ModTime = *obj.LastModified
			}
			batch = append(batch, entry)
		}

		if len(batch) > 0 {
			if err := fn(batch); err != nil {
				return err
			}
		}
	}
	return nil
}

// Mkdir creates a directory marker object
func (b *S3) Mkdir(ctx context.Context, u url.URL, permissions int) error {
	key := s3Key(u)
	if key == "" {
		return NewError("mkdir", u, KindDirAlreadyExists, nil)
	}

	if dir, err := b.isDir(ctx, u.Host, key); err != nil {
		return b.wrap("mkdir", u, err)
	} else if dir {
		return NewError("mkdir", u, KindDirAlreadyExists, nil)
	}
	if _, err := b.head(ctx, u.Host, key); err == nil {
		return NewError("mkdir", u, KindAlreadyExists, nil)
	} else if !isNotFound(err) {
		return b.wrap("mkdir", u, err)
	}

	start := time.Now()
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.Host),
		Key:           aws.String(dirPrefix(key)),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	b.record("put_object", start, err)
	return b.wrap("mkdir", u, err)
}

// checkDest reports a conflict when an object or directory exists at dst
func (b *S3) checkDest(ctx context.Context, op string, src *url.URL, dst url.URL, overwrite bool) error {
	key := s3Key(dst)
	if src != nil && src.Host == dst.Host && s3Key(*src) == key {
		return NewError(op, dst, KindIdenticalFiles, nil)
	}

	if _, err := b.head(ctx, dst.Host, key); err == nil {
		if !overwrite {
			return NewError(op, dst, KindAlreadyExists, nil)
		}
		return nil
	} else if !isNotFound(err) {
		return b.wrap(op, dst, err)
	}

	dir, err := b.isDir(ctx, dst.Host, key)
	if err != nil {
		return b.wrap(op, dst, err)
	}
	if dir {
		return NewError(op, dst, KindDirAlreadyExists, nil)
	}
	return nil
}

// Copy copies an object server side
func (b *S3) Copy(ctx context.Context, src, dst url.URL, opts CopyOptions) error {
	if err := b.checkDest(ctx, "copy", &src, dst, opts.Overwrite); err != nil {
		return err
	}

	srcKey := s3Key(src)
	start := time.Now()
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dst.Host),
		Key:        aws.String(s3Key(dst)),
		CopySource: aws.String(src.Host + "/" + (&url.URL{Path: srcKey}).EscapedPath()),
	})
	b.record("copy_object", start, err)
	if err != nil {
		return b.wrap("copy", src, err)
	}

	if opts.Progress != nil && opts.Size > 0 {
		opts.Progress(opts.Size)
	}
	return nil
}

// Move copies the object then deletes the source
func (b *S3) Move(ctx context.Context, src, dst url.URL, opts CopyOptions) error {
	if err := b.Copy(ctx, src, dst, opts); err != nil {
		return err
	}
	return b.Remove(ctx, src)
}

// Symlink is not supported by object storage
func (b *S3) Symlink(ctx context.Context, target string, dst url.URL, overwrite bool) error {
	return Unsupported("symlink", dst)
}

// Rename is not supported; moves fall back to copy and delete
func (b *S3) Rename(ctx context.Context, src, dst url.URL, overwrite bool) error {
	return Unsupported("rename", src)
}

// Rmdir deletes the marker object of an empty directory
func (b *S3) Rmdir(ctx context.Context, u url.URL) error {
	key := s3Key(u)
	if key == "" {
		return NewError("rmdir", u, KindPermission, fmt.Errorf("cannot remove bucket root"))
	}

	children, err := b.hasChildren(ctx, u.Host, dirPrefix(key))
	if err != nil {
		return b.wrap("rmdir", u, err)
	}
	if children {
		return NewError("rmdir", u, KindNotEmpty, nil)
	}

	start := time.Now()
	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(dirPrefix(key)),
	})
	b.record("delete_object", start, err)
	return b.wrap("rmdir", u, err)
}

// Remove deletes an object
func (b *S3) Remove(ctx context.Context, u url.URL) error {
	if _, err := b.head(ctx, u.Host, s3Key(u)); err != nil {
		return b.wrap("remove", u, err)
	}

	start := time.Now()
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(s3Key(u)),
	})
	b.record("delete_object", start, err)
	return b.wrap("remove", u, err)
}

// SetModTime is not supported, object timestamps are set by the server
func (b *S3) SetModTime(ctx context.Context, u url.URL, t time.Time) error {
	return Unsupported("set modification time of", u)
}

// Capabilities of S3 storage
func (b *S3) Capabilities() Capabilities {
	return Capabilities{
		SupportsDeleting: true,
		SupportsListing:  true,
	}
}

// Open streams an object
func (b *S3) Open(ctx context.Context, u url.URL) (io.ReadCloser, Entry, error) {
	start := time.Now()
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(s3Key(u)),
	})
	b.record("get_object", start, err)
	if err != nil {
		return nil, Entry{}, b.wrap("open", u, err)
	}

	entry := Entry{
		Name:        path.Base("/" + s3Key(u)),
		Size:        aws.ToInt64(out.ContentLength),
		Permissions: -1,
	}
	if out.LastModified != nil {
		entry.ModTime = *out.LastModified
	}
	return out.Body, entry, nil
}

// Create uploads r as a new object
func (b *S3) Create(ctx context.Context, u url.URL, r io.Reader, opts CopyOptions) error {
	if err := b.checkDest(ctx, "create", nil, u, opts.Overwrite); err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(s3Key(u)),
		Body:   ratelimit.NewReader(ctx, r, b.limiter, opts.Progress),
	}
	if opts.Size >= 0 {
		input.ContentLength = aws.Int64(opts.Size)
	}

	start := time.Now()
	_, err := b.client.PutObject(ctx, input)
	b.record("put_object", start, err)
	return b.wrap("create", u, err)
}

// Close is a no-op for S3 backends
func (b *S3) Close() error { return nil }
