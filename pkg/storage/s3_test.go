package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeS3 keeps objects in memory, keyed by "bucket/key"
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	mtime   time.Time
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string][]byte),
		mtime:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (f *fakeS3) put(bucket, key, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = []byte(content)
}

func (f *fakeS3) get(bucket, key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+key]
	return string(data), ok
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.get(aws.ToString(in.Bucket), aws.ToString(in.Key))
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data))), LastModified: aws.Time(f.mtime)}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.get(aws.ToString(in.Bucket), aws.ToString(in.Key))
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		LastModified:  aws.Time(f.mtime),
	}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.put(aws.ToString(in.Bucket), aws.ToString(in.Key), string(data))
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	source, err := url.PathUnescape(aws.ToString(in.CopySource))
	if err != nil {
		return nil, err
	}
	bucket, key, _ := strings.Cut(source, "/")
	data, ok := f.get(bucket, key)
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.put(aws.ToString(in.Bucket), aws.ToString(in.Key), data)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket := aws.ToString(in.Bucket) + "/"
	prefix := aws.ToString(in.Prefix)
	var keys []string
	for k := range f.objects {
		key, ok := strings.CutPrefix(k, bucket)
		if ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if limit := int(aws.ToInt32(in.MaxKeys)); limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(f.objects[bucket+k]))),
			LastModified: aws.Time(f.mtime),
		})
	}
	return out, nil
}

func s3Loc(bucket, key string) url.URL {
	return url.URL{Scheme: SchemeS3, Host: bucket, Path: "/" + key}
}

func TestS3Key(t *testing.T) {
	tests := map[string]string{
		"":          "",
		"/":         "",
		"/a/b.txt":  "a/b.txt",
		"/a//b/":    "a/b",
		"/dir/../x": "x",
	}
	for p, want := range tests {
		if got := s3Key(url.URL{Scheme: SchemeS3, Host: "b", Path: p}); got != want {
			t.Errorf("s3Key(%q) = %q, want %q", p, got, want)
		}
	}
}

func TestS3Stat(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	fake.put("bucket", "photos/a.jpg", "jpeg")
	fake.put("bucket", "marker/", "")
	b := newS3WithClient(fake)

	t.Run("Object", func(t *testing.T) {
		entry, err := b.Stat(ctx, s3Loc("bucket", "photos/a.jpg"))
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if entry.Name != "a.jpg" || entry.Size != 4 || entry.IsDir || entry.Permissions != -1 {
			t.Errorf("Stat() = %+v", entry)
		}
		if !entry.ModTime.Equal(fake.mtime) {
			t.Errorf("ModTime = %v", entry.ModTime)
		}
	})

	t.Run("ImplicitDirectory", func(t *testing.T) {
		entry, err := b.Stat(ctx, s3Loc("bucket", "photos"))
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if !entry.IsDir || entry.Name != "photos" {
			t.Errorf("Stat() = %+v", entry)
		}
	})

	t.Run("MarkerDirectory", func(t *testing.T) {
		entry, err := b.Stat(ctx, s3Loc("bucket", "marker"))
		if err != nil || !entry.IsDir {
			t.Errorf("Stat() = %+v, %v", entry, err)
		}
	})

	t.Run("BucketRoot", func(t *testing.T) {
		entry, err := b.Stat(ctx, url.URL{Scheme: SchemeS3, Host: "bucket"})
		if err != nil || !entry.IsDir || entry.Name != "bucket" {
			t.Errorf("Stat() = %+v, %v", entry, err)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := b.Stat(ctx, s3Loc("bucket", "nope")); !IsKind(err, KindNotExist) {
			t.Errorf("Stat() error = %v, want KindNotExist", err)
		}
	})
}

func TestS3List(t *testing.T) {
	fake := newFakeS3()
	fake.put("bucket", "root/a.txt", "a")
	fake.put("bucket", "root/sub/deep/b.txt", "bb")
	fake.put("bucket", "root/empty/", "")
	fake.put("bucket", "other/c.txt", "c")
	b := newS3WithClient(fake)

	var entries []Entry
	err := b.List(context.Background(), s3Loc("bucket", "root"), func(batch []Entry) error {
		entries = append(entries, batch...)
		return nil
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	index := make(map[string]Entry)
	order := make(map[string]int)
	for i, e := range entries {
		if _, dup := index[e.RelPath]; dup {
			t.Errorf("%s listed twice", e.RelPath)
		}
		index[e.RelPath] = e
		order[e.RelPath] = i
	}

	for _, dir := range []string{"empty", "sub", "sub/deep"} {
		if e, ok := index[dir]; !ok || !e.IsDir {
			t.Errorf("directory %s missing: %+v", dir, e)
		}
	}
	if e := index["sub/deep/b.txt"]; e.Size != 2 || e.Name != "b.txt" {
		t.Errorf("file entry = %+v", e)
	}
	if len(entries) != 5 {
		t.Errorf("got %d entries, want 5", len(entries))
	}
	if order["sub"] > order["sub/deep"] || order["sub/deep"] > order["sub/deep/b.txt"] {
		t.Error("parents should come before children")
	}
}

func TestS3Mkdir(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	fake.put("bucket", "file", "x")
	b := newS3WithClient(fake)

	if err := b.Mkdir(ctx, s3Loc("bucket", "dir"), 0755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if _, ok := fake.get("bucket", "dir/"); !ok {
		t.Error("marker object not created")
	}
	if err := b.Mkdir(ctx, s3Loc("bucket", "dir"), -1); !IsKind(err, KindDirAlreadyExists) {
		t.Errorf("Mkdir() error = %v, want KindDirAlreadyExists", err)
	}
	if err := b.Mkdir(ctx, s3Loc("bucket", "file"), -1); !IsKind(err, KindAlreadyExists) {
		t.Errorf("Mkdir() on object error = %v, want KindAlreadyExists", err)
	}
}

func TestS3CopyMove(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	fake.put("bucket", "a/report v1.txt", "report")
	fake.put("bucket", "taken.txt", "old")
	b := newS3WithClient(fake)
	src := s3Loc("bucket", "a/report v1.txt")

	var progress int64
	opts := CopyOptions{Permissions: -1, Size: 6, Progress: func(n int64) { progress = n }}
	if err := b.Copy(ctx, src, s3Loc("bucket", "b/copy.txt"), opts); err != nil {
		t.Fatalf("Copy() error = %v", err)
	}
	if got, _ := fake.get("bucket", "b/copy.txt"); got != "report" {
		t.Errorf("copied content = %q", got)
	}
	if progress != 6 {
		t.Errorf("progress = %d, want 6", progress)
	}

	if err := b.Copy(ctx, src, s3Loc("bucket", "taken.txt"), CopyOptions{Size: -1}); !IsKind(err, KindAlreadyExists) {
		t.Errorf("Copy() error = %v, want KindAlreadyExists", err)
	}
	if err := b.Copy(ctx, src, src, CopyOptions{Size: -1, Overwrite: true}); !IsKind(err, KindIdenticalFiles) {
		t.Errorf("Copy() onto itself error = %v, want KindIdenticalFiles", err)
	}
	if err := b.Copy(ctx, src, s3Loc("bucket", "b"), CopyOptions{Size: -1, Overwrite: true}); !IsKind(err, KindDirAlreadyExists) {
		t.Errorf("Copy() onto directory error = %v, want KindDirAlreadyExists", err)
	}

	if err := b.Move(ctx, src, s3Loc("bucket", "moved.txt"), CopyOptions{Size: -1}); err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if _, ok := fake.get("bucket", "a/report v1.txt"); ok {
		t.Error("moved source should be deleted")
	}
	if got, _ := fake.get("bucket", "moved.txt"); got != "report" {
		t.Errorf("moved content = %q", got)
	}
}

func TestS3RemoveRmdir(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	fake.put("bucket", "dir/", "")
	fake.put("bucket", "dir/a.txt", "a")
	b := newS3WithClient(fake)

	if err := b.Rmdir(ctx, s3Loc("bucket", "dir")); !IsKind(err, KindNotEmpty) {
		t.Errorf("Rmdir() error = %v, want KindNotEmpty", err)
	}
	if err := b.Remove(ctx, s3Loc("bucket", "dir/a.txt")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := b.Remove(ctx, s3Loc("bucket", "dir/a.txt")); !IsKind(err, KindNotExist) {
		t.Errorf("Remove() error = %v, want KindNotExist", err)
	}
	if err := b.Rmdir(ctx, s3Loc("bucket", "dir")); err != nil {
		t.Fatalf("Rmdir() error = %v", err)
	}
	if _, ok := fake.get("bucket", "dir/"); ok {
		t.Error("marker should be deleted")
	}
	if err := b.Rmdir(ctx, url.URL{Scheme: SchemeS3, Host: "bucket"}); err == nil {
		t.Error("Rmdir() of the bucket root should fail")
	}
}

func TestS3Unsupported(t *testing.T) {
	ctx := context.Background()
	b := newS3WithClient(newFakeS3())
	u := s3Loc("bucket", "x")

	if err := b.Symlink(ctx, "/target", u, false); !IsKind(err, KindUnsupported) {
		t.Errorf("Symlink() error = %v", err)
	}
	if err := b.Rename(ctx, u, s3Loc("bucket", "y"), false); !IsKind(err, KindUnsupported) {
		t.Errorf("Rename() error = %v", err)
	}
	if err := b.SetModTime(ctx, u, time.Now()); !IsKind(err, KindUnsupported) {
		t.Errorf("SetModTime() error = %v", err)
	}

	caps := b.Capabilities()
	if caps.CanRename || caps.SupportsSymlink || !caps.SupportsDeleting || !caps.SupportsListing {
		t.Errorf("capabilities = %+v", caps)
	}
}

func TestS3OpenCreate(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	fake.put("bucket", "in.txt", "payload")
	b := newS3WithClient(fake)

	r, entry, err := b.Open(ctx, s3Loc("bucket", "in.txt"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()
	if entry.Size != 7 || entry.Name != "in.txt" {
		t.Errorf("entry = %+v", entry)
	}

	if err := b.Create(ctx, s3Loc("bucket", "out.txt"), bytes.NewReader([]byte("new")), CopyOptions{Size: 3}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if got, _ := fake.get("bucket", "out.txt"); got != "new" {
		t.Errorf("created content = %q", got)
	}
	if err := b.Create(ctx, s3Loc("bucket", "out.txt"), strings.NewReader("x"), CopyOptions{Size: -1}); !IsKind(err, KindAlreadyExists) {
		t.Errorf("Create() error = %v, want KindAlreadyExists", err)
	}
	if _, _, err := b.Open(ctx, s3Loc("bucket", "missing")); !IsKind(err, KindNotExist) {
		t.Errorf("Open() error = %v, want KindNotExist", err)
	}
}
