package vfs

import (
	"path"
	"sort"
	"strings"

	"dynmount/internal/logging"
)

var (
	pathLogger = logging.GetLogger().WithPrefix("path")
)

// VirtualPath is an absolute, cleaned, slash-separated path inside the
// virtual filesystem.
type VirtualPath string

// NewVirtualPath cleans p and makes it absolute. Backslashes are treated as
// separators.
func NewVirtualPath(p string) VirtualPath {
	cleaned := path.Clean("/" + strings.ReplaceAll(p, `\`, "/"))
	pathLogger.Trace("Creating new virtual path: %q -> %q", p, cleaned)
	return VirtualPath(cleaned)
}

// String returns the string representation of the path
func (vp VirtualPath) String() string {
	return string(vp)
}

// Parent returns the parent directory
func (vp VirtualPath) Parent() VirtualPath {
	return VirtualPath(path.Dir(string(vp)))
}

// Base returns the last element of the path
func (vp VirtualPath) Base() string {
	return path.Base(string(vp))
}

// Join appends a child name.
func (vp VirtualPath) Join(name string) VirtualPath {
	return NewVirtualPath(string(vp) + "/" + name)
}

// IsRoot returns true if this is the root virtual path "/"
func (vp VirtualPath) IsRoot() bool {
	return vp == "/"
}

// Contains reports whether other is vp or lies beneath it, returning the
// slash-separated remainder.
func (vp VirtualPath) Contains(other VirtualPath) (string, bool) {
	if vp == other {
		return "", true
	}
	prefix := string(vp) + "/"
	if vp.IsRoot() {
		prefix = "/"
	}
	if !strings.HasPrefix(string(other), prefix) {
		return "", false
	}
	return strings.TrimPrefix(string(other), prefix), true
}

// cleanRelative normalises a key of a multi-file mount. It reports whether
// the key names a directory (a trailing "/." or a bare ".") and rejects keys
// that climb out of the mount.
func cleanRelative(key string) (rel string, dir bool, ok bool) {
	key = strings.ReplaceAll(key, `\`, "/")
	dir = key == "." || strings.HasSuffix(key, "/.")
	cleaned := path.Clean(strings.TrimPrefix(key, "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false, false
	}
	if cleaned == "." {
		cleaned = ""
	}
	if cleaned == "" && !dir {
		return "", false, false
	}
	return cleaned, dir, true
}

// childName returns the first element of rel.
func childName(rel string) string {
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return rel
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
