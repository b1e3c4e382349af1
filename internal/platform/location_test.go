package platform

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
)

func TestParseLocation(t *testing.T) {
	t.Run("S3", func(t *testing.T) {
		u, err := ParseLocation("s3://bucket/dir/key.txt")
		if err != nil {
			t.Fatalf("ParseLocation() error = %v", err)
		}
		if u.Scheme != "s3" || u.Host != "bucket" || u.Path != "/dir/key.txt" {
			t.Errorf("ParseLocation() = %+v", u)
		}
	})

	t.Run("RelativeLocalPath", func(t *testing.T) {
		cwd, err := os.Getwd()
		if err != nil {
			t.Fatalf("Getwd() error = %v", err)
		}
		u, err := ParseLocation("some/dir")
		if err != nil {
			t.Fatalf("ParseLocation() error = %v", err)
		}
		if !IsLocal(u) {
			t.Errorf("scheme = %s, want file", u.Scheme)
		}
		if got, want := LocalPath(u), filepath.Join(cwd, "some", "dir"); got != want {
			t.Errorf("LocalPath() = %s, want %s", got, want)
		}
	})

	t.Run("FileURL", func(t *testing.T) {
		u, err := ParseLocation("file:///tmp/a/../b/")
		if err != nil {
			t.Fatalf("ParseLocation() error = %v", err)
		}
		if u.Path != "/tmp/b" {
			t.Errorf("Path = %s, want /tmp/b", u.Path)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if _, err := ParseLocation(""); err == nil {
			t.Error("ParseLocation(\"\") should fail")
		}
	})
}

func TestSameBackend(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"LocalLocal", "file:///a", "file:///b", true},
		{"SameBucket", "s3://bkt/a", "s3://bkt/b", true},
		{"OtherBucket", "s3://bkt/a", "s3://other/a", false},
		{"OtherScheme", "file:///a", "s3://bkt/a", false},
		{"OtherUser", "sftp://joe@host/a", "sftp://ann@host/a", false},
		{"OtherPort", "sftp://host:22/a", "sftp://host:2222/a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := url.Parse(tt.a)
			b, _ := url.Parse(tt.b)
			if got := SameBackend(*a, *b); got != tt.want {
				t.Errorf("SameBackend(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestHasPathPrefix(t *testing.T) {
	tests := []struct {
		p, prefix string
		want      bool
	}{
		{"/dest/x", "/dest/x", true},
		{"/dest/x/y.txt", "/dest/x", true},
		{"/dest/x/", "/dest/x", true},
		{"/dest/xy", "/dest/x", false},
		{"/dest", "/dest/x", false},
		{"/anything", "/", true},
	}

	for _, tt := range tests {
		t.Run(tt.p+"~"+tt.prefix, func(t *testing.T) {
			if got := HasPathPrefix(tt.p, tt.prefix); got != tt.want {
				t.Errorf("HasPathPrefix(%q, %q) = %v, want %v", tt.p, tt.prefix, got, tt.want)
			}
		})
	}
}

func TestReplacePathPrefix(t *testing.T) {
	u := url.URL{Scheme: "file", Path: "/dest/x/sub/f.txt"}

	got, ok := ReplacePathPrefix(u, "/dest/x", "/dest/x (1)")
	if !ok {
		t.Fatal("ReplacePathPrefix() reported no match")
	}
	if got.Path != "/dest/x (1)/sub/f.txt" {
		t.Errorf("Path = %s", got.Path)
	}

	other := url.URL{Scheme: "file", Path: "/dest/xy/f.txt"}
	if _, ok := ReplacePathPrefix(other, "/dest/x", "/dest/z"); ok {
		t.Error("ReplacePathPrefix() should not match a sibling sharing a name prefix")
	}
}

func TestLocationHelpers(t *testing.T) {
	u := url.URL{Scheme: "file", Path: "/a/b/c.txt"}

	if got := FileName(u); got != "c.txt" {
		t.Errorf("FileName() = %s", got)
	}
	if got := Parent(u).Path; got != "/a/b" {
		t.Errorf("Parent() = %s", got)
	}
	if got := AddPath(url.URL{Scheme: "file", Path: "/a/"}, "b/c").Path; got != "/a/b/c" {
		t.Errorf("AddPath() = %s", got)
	}
	if got := WithFileName(u, "d.txt").Path; got != "/a/b/d.txt" {
		t.Errorf("WithFileName() = %s", got)
	}
	if got := FileName(url.URL{Scheme: "s3", Host: "bucket"}); got != "bucket" {
		t.Errorf("FileName(bucket) = %s", got)
	}
	if !EqualFold(u, url.URL{Scheme: "file", Path: "/A/b/C.txt"}) {
		t.Error("EqualFold() should ignore case")
	}
	if Equal(u, url.URL{Scheme: "file", Path: "/A/b/C.txt"}) {
		t.Error("Equal() should be case sensitive")
	}
}
