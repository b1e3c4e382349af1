package platform

import (
	"net/url"
	"path"
	"path/filepath"
	"runtime"
	"strings"
)

// SchemeFile is the scheme of locations on the local filesystem
const SchemeFile = "file"

// ParseLocation turns a command-line argument into a location.
// Arguments with a scheme ("s3://bucket/key") are parsed as URLs, anything
// else is a local path made absolute.
func ParseLocation(arg string) (url.URL, error) {
	if err := ValidatePath(arg); err != nil {
		return url.URL{}, err
	}

	if strings.Contains(arg, "://") {
		u, err := url.Parse(arg)
		if err != nil {
			return url.URL{}, &PathError{Path: arg, Message: err.Error()}
		}
		if u.Scheme == SchemeFile {
			u.Path = cleanSlash(u.Path)
		}
		return *u, nil
	}

	abs, err := filepath.Abs(arg)
	if err != nil {
		return url.URL{}, &PathError{Path: arg, Message: err.Error()}
	}
	return FromLocalPath(abs), nil
}

// FromLocalPath builds a file location from an absolute local path
func FromLocalPath(p string) url.URL {
	slashed := filepath.ToSlash(filepath.Clean(p))
	if !strings.HasPrefix(slashed, "/") {
		// Windows drive letter
		slashed = "/" + slashed
	}
	return url.URL{Scheme: SchemeFile, Path: slashed}
}

// LocalPath returns the local filesystem path of a file location
func LocalPath(u url.URL) string {
	p := u.Path
	if runtime.GOOS == "windows" && len(p) > 2 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}

// IsLocal reports whether the location is on the local filesystem
func IsLocal(u url.URL) bool {
	return u.Scheme == SchemeFile
}

// SameBackend reports whether two locations are served by the same backend
// instance: same scheme, host, port and credentials.
func SameBackend(a, b url.URL) bool {
	if a.Scheme != b.Scheme || a.Host != b.Host {
		return false
	}
	return a.User.String() == b.User.String()
}

// Equal reports whether two locations designate the same entry
func Equal(a, b url.URL) bool {
	return SameBackend(a, b) && cleanSlash(a.Path) == cleanSlash(b.Path)
}

// AddPath appends a relative path to a location
func AddPath(u url.URL, rel string) url.URL {
	out := u
	out.Path = path.Join(cleanSlash(u.Path), rel)
	out.RawPath = ""
	return out
}

// FileName returns the last element of the location path
func FileName(u url.URL) string {
	p := cleanSlash(u.Path)
	if p == "/" || p == "" {
		return u.Host
	}
	return path.Base(p)
}

// Parent returns the location of the containing directory
func Parent(u url.URL) url.URL {
	out := u
	out.Path = path.Dir(cleanSlash(u.Path))
	out.RawPath = ""
	return out
}

// WithFileName replaces the last element of the location path
func WithFileName(u url.URL, name string) url.URL {
	return AddPath(Parent(u), name)
}

// HasPathPrefix reports whether p is prefix or lies below it, matching whole
// path components only.
func HasPathPrefix(p, prefix string) bool {
	p = cleanSlash(p)
	prefix = cleanSlash(prefix)
	if p == prefix || prefix == "/" {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

// ReplacePathPrefix swaps the oldPrefix part of u's path for newPrefix.
// It reports false and leaves u untouched when u is not under oldPrefix.
func ReplacePathPrefix(u url.URL, oldPrefix, newPrefix string) (url.URL, bool) {
	if !HasPathPrefix(u.Path, oldPrefix) {
		return u, false
	}
	rest := strings.TrimPrefix(cleanSlash(u.Path), cleanSlash(oldPrefix))
	out := u
	out.Path = cleanSlash(newPrefix) + rest
	out.RawPath = ""
	return out, true
}

// EqualFold reports whether two locations differ at most by letter case
func EqualFold(a, b url.URL) bool {
	return SameBackend(a, b) && strings.EqualFold(cleanSlash(a.Path), cleanSlash(b.Path))
}

func cleanSlash(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

// ValidatePath checks if a path argument is usable on the current platform
func ValidatePath(p string) error {
	if p == "" {
		return &PathError{Path: p, Message: "path is empty"}
	}

	if runtime.GOOS == "windows" && !strings.Contains(p, "://") {
		invalidChars := []string{"<", ">", "\"", "|", "?", "*"}
		for _, char := range invalidChars {
			if strings.Contains(p, char) {
				return &PathError{Path: p, Message: "path contains invalid character: " + char}
			}
		}
	}

	return nil
}

// PathError represents a path validation error
type PathError struct {
	Path    string
	Message string
}

func (e *PathError) Error() string {
	return "invalid path '" + e.Path + "': " + e.Message
}
