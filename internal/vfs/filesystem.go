package vfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"dynmount/internal/logging"

	"github.com/spf13/afero"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("vfs")
)

type mountKind int

const (
	kindFile  mountKind = iota // a single file
	kindFiles                  // a set of host files under one directory
	kindDir                    // a host directory
)

func (k mountKind) String() string {
	switch k {
	case kindFile:
		return "file"
	case kindFiles:
		return "files"
	case kindDir:
		return "dir"
	}
	return "unknown"
}

// mountEntry is one row of the mount table.
type mountEntry struct {
	point    VirtualPath
	kind     mountKind
	fs       afero.Fs
	file     string            // kindFile: path of the file inside fs
	files    map[string]string // kindFiles: relative path -> path inside fs
	dirs     map[string]bool   // kindFiles: declared and implied directories
	writable bool
}

// Entry describes a path in the virtual filesystem.
type Entry struct {
	Name     string
	Dir      bool
	Size     int64
	Mode     os.FileMode
	ModTime  time.Time
	ReadOnly bool
}

// MountInfo summarises a mount table row.
type MountInfo struct {
	Path     string
	Kind     string
	Writable bool
}

// FileSystem is a virtual filesystem assembled from mounts. Paths that are
// not inside any mount but lead to one appear as read-only directories.
// It is safe for concurrent use.
type FileSystem struct {
	host   afero.Fs
	mounts map[VirtualPath]*mountEntry
	uid    uint32
	gid    uint32
	mu     sync.RWMutex
}

// NewFileSystem creates an empty virtual filesystem whose file and
// directory mounts refer to paths on host.
func NewFileSystem(host afero.Fs) *FileSystem {
	if host == nil {
		host = afero.NewOsFs()
	}
	uid, gid := ownerFromEnv()
	vfsLogger.Debug("Creating virtual filesystem (uid=%d, gid=%d)", uid, gid)
	return &FileSystem{
		host:   host,
		mounts: make(map[VirtualPath]*mountEntry),
		uid:    uid,
		gid:    gid,
	}
}

// MountResource mounts the file name of fsys at virtualPath.
func (v *FileSystem) MountResource(virtualPath string, fsys fs.FS, name string) (string, error) {
	if fsys == nil {
		return "", NewError(OpMount, virtualPath, ErrPathNotFound)
	}
	src := afero.FromIOFS{FS: fsys}
	if err := requireRegular(src, name); err != nil {
		return "", NewError(OpMount, virtualPath, err)
	}
	return v.add(&mountEntry{
		point: NewVirtualPath(virtualPath),
		kind:  kindFile,
		fs:    src,
		file:  name,
	})
}

// MountFile mounts a single host file read-only at virtualPath.
func (v *FileSystem) MountFile(virtualPath, hostFile string) (string, error) {
	if err := requireRegular(v.host, hostFile); err != nil {
		return "", NewError(OpMount, virtualPath, err)
	}
	return v.add(&mountEntry{
		point: NewVirtualPath(virtualPath),
		kind:  kindFile,
		fs:    afero.NewReadOnlyFs(v.host),
		file:  hostFile,
	})
}

// MountFiles mounts a read-only directory at virtualPath whose contents are
// the given relative paths, each backed by a host file. A key whose last
// element is "." declares the directory it names; if its host file exists it
// is listed in that directory under its own base name.
func (v *FileSystem) MountFiles(virtualPath string, files map[string]string) (string, error) {
	entry := &mountEntry{
		point: NewVirtualPath(virtualPath),
		kind:  kindFiles,
		fs:    afero.NewReadOnlyFs(v.host),
		files: make(map[string]string),
		dirs:  map[string]bool{"": true},
	}
	for _, key := range sortedKeys(files) {
		rel, dir, ok := cleanRelative(key)
		if !ok {
			return "", NewError(OpMount, virtualPath+"/"+key, ErrInvalidPath)
		}
		host := files[key]
		if dir {
			entry.addDir(rel)
			if requireRegular(v.host, host) == nil {
				entry.addFile(joinRel(rel, baseName(host)), host)
			}
			continue
		}
		entry.addFile(rel, host)
	}
	return v.add(entry)
}

// MountWritable mounts the host directory hostDir read-write at virtualPath.
func (v *FileSystem) MountWritable(virtualPath, hostDir string) (string, error) {
	info, err := v.host.Stat(hostDir)
	if err != nil {
		return "", NewError(OpMount, virtualPath, err)
	}
	if !info.IsDir() {
		return "", NewError(OpMount, virtualPath, ErrNotDirectory)
	}
	return v.add(&mountEntry{
		point:    NewVirtualPath(virtualPath),
		kind:     kindDir,
		fs:       afero.NewBasePathFs(v.host, hostDir),
		writable: true,
	})
}

// Unmount removes the mount at path.
func (v *FileSystem) Unmount(path string) error {
	vp := NewVirtualPath(path)
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.mounts[vp]; !ok {
		return NewError(OpUnmount, vp.String(), ErrNotMounted)
	}
	delete(v.mounts, vp)
	vfsLogger.Debug("Unmounted %q", vp.String())
	return nil
}

// Mounts lists the mount table ordered by path.
func (v *FileSystem) Mounts() []MountInfo {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]MountInfo, 0, len(v.mounts))
	for vp, m := range v.mounts {
		out = append(out, MountInfo{Path: vp.String(), Kind: m.kind.String(), Writable: m.writable})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (v *FileSystem) add(entry *mountEntry) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	vp := entry.point
	if vp.IsRoot() {
		return "", NewError(OpMount, vp.String(), ErrAlreadyExists)
	}
	if _, ok := v.mounts[vp]; ok {
		return "", NewError(OpMount, vp.String(), ErrAlreadyExists)
	}
	if m, rel, ok := v.resolve(vp); ok {
		if _, err := m.stat(rel); err == nil {
			vfsLogger.Debug("Mount %q collides with existing path in %q", vp.String(), m.point.String())
			return "", NewError(OpMount, vp.String(), ErrAlreadyExists)
		}
		if m.underFile(rel) {
			vfsLogger.Debug("Mount %q is below a file in %q", vp.String(), m.point.String())
			return "", NewError(OpMount, vp.String(), ErrNotDirectory)
		}
	}

	v.mounts[vp] = entry
	vfsLogger.Debug("Mounted %s at %q", entry.kind, vp.String())
	return vp.String(), nil
}

// resolve finds the innermost mount containing vp. Callers hold mu.
func (v *FileSystem) resolve(vp VirtualPath) (*mountEntry, string, bool) {
	var (
		best    *mountEntry
		bestRel string
	)
	for point, m := range v.mounts {
		rel, ok := point.Contains(vp)
		if !ok {
			continue
		}
		if best == nil || len(point) > len(best.point) {
			best, bestRel = m, rel
		}
	}
	return best, bestRel, best != nil
}

// leadsToMount reports whether vp is a strict ancestor of some mount point.
// Callers hold mu.
func (v *FileSystem) leadsToMount(vp VirtualPath) bool {
	for point := range v.mounts {
		if rest, ok := vp.Contains(point); ok && rest != "" {
			return true
		}
	}
	return false
}

// Stat describes the entry at path.
func (v *FileSystem) Stat(path string) (Entry, error) {
	vp := NewVirtualPath(path)
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stat(vp)
}

func (v *FileSystem) stat(vp VirtualPath) (Entry, error) {
	if m, rel, ok := v.resolve(vp); ok {
		info, err := m.stat(rel)
		if err == nil {
			return v.entryFromInfo(vp.Base(), info, !m.writable), nil
		}
		if !errors.Is(err, ErrPathNotFound) && !errors.Is(err, os.ErrNotExist) {
			return Entry{}, NewError(OpLookup, vp.String(), err)
		}
	}
	if vp.IsRoot() || v.leadsToMount(vp) {
		return v.syntheticDir(vp.Base()), nil
	}
	return Entry{}, NewError(OpLookup, vp.String(), ErrPathNotFound)
}

// Exists reports whether path names a file or directory.
func (v *FileSystem) Exists(path string) bool {
	_, err := v.Stat(path)
	return err == nil
}

// IsDir reports whether path names a directory.
func (v *FileSystem) IsDir(path string) bool {
	e, err := v.Stat(path)
	return err == nil && e.Dir
}

// ReadDir lists the directory at path ordered by name.
func (v *FileSystem) ReadDir(path string) ([]Entry, error) {
	vp := NewVirtualPath(path)
	v.mu.RLock()
	defer v.mu.RUnlock()

	self, err := v.stat(vp)
	if err != nil {
		return nil, NewError(OpReadDir, vp.String(), ErrPathNotFound)
	}
	if !self.Dir {
		return nil, NewError(OpReadDir, vp.String(), ErrNotDirectory)
	}

	children := make(map[string]Entry)
	if m, rel, ok := v.resolve(vp); ok {
		entries, err := m.readDir(rel)
		if err != nil && !errors.Is(err, ErrPathNotFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, NewError(OpReadDir, vp.String(), err)
		}
		for _, info := range entries {
			children[info.Name()] = v.entryFromInfo(info.Name(), info, !m.writable)
		}
	}

	// Mount points and the paths leading to them shadow mount contents.
	for point := range v.mounts {
		rest, ok := vp.Contains(point)
		if !ok || rest == "" {
			continue
		}
		name := childName(rest)
		if e, err := v.stat(vp.Join(name)); err == nil {
			children[name] = e
		}
	}

	out := make([]Entry, 0, len(children))
	for _, name := range sortedKeys(children) {
		out = append(out, children[name])
	}
	return out, nil
}

// Open opens the file at path for reading.
func (v *FileSystem) Open(path string) (afero.File, error) {
	return v.OpenFile(path, os.O_RDONLY, 0)
}

// OpenFile opens the file at path with the given flags. Flags that modify
// the file are only accepted inside writable mounts.
func (v *FileSystem) OpenFile(path string, flag int, perm os.FileMode) (afero.File, error) {
	vp := NewVirtualPath(path)
	v.mu.RLock()
	defer v.mu.RUnlock()

	m, rel, ok := v.resolve(vp)
	if !ok {
		switch {
		case v.leadsToMount(vp) || vp.IsRoot():
			return nil, NewError(OpOpen, vp.String(), ErrIsDirectory)
		case isWriteFlag(flag):
			return nil, NewError(OpOpen, vp.String(), ErrReadOnly)
		}
		return nil, NewError(OpOpen, vp.String(), ErrPathNotFound)
	}

	if isWriteFlag(flag) {
		if !m.writable || rel == "" {
			return nil, NewError(OpOpen, vp.String(), ErrReadOnly)
		}
		if v.leadsToMount(vp) {
			return nil, NewError(OpOpen, vp.String(), ErrIsDirectory)
		}
	}

	info, err := m.stat(rel)
	if err != nil {
		if flag&os.O_CREATE != 0 {
			f, err := m.fs.OpenFile(hostRel(rel), flag, perm)
			if err != nil {
				return nil, NewError(OpCreate, vp.String(), err)
			}
			return f, nil
		}
		if v.leadsToMount(vp) {
			return nil, NewError(OpOpen, vp.String(), ErrIsDirectory)
		}
		return nil, NewError(OpOpen, vp.String(), err)
	}
	if info.IsDir() {
		return nil, NewError(OpOpen, vp.String(), ErrIsDirectory)
	}

	var f afero.File
	if isWriteFlag(flag) {
		f, err = m.fs.OpenFile(m.backing(rel), flag, perm)
	} else {
		f, err = m.fs.Open(m.backing(rel))
	}
	if err != nil {
		return nil, NewError(OpOpen, vp.String(), err)
	}
	return f, nil
}

// ReadFile returns the contents of the file at path.
func (v *FileSystem) ReadFile(path string) ([]byte, error) {
	f, err := v.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// WriteFile replaces the contents of the file at path, creating it if needed.
func (v *FileSystem) WriteFile(path string, data []byte) error {
	f, err := v.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return NewError(OpWrite, NewVirtualPath(path).String(), err)
	}
	return f.Close()
}

// Truncate changes the size of the file at path.
func (v *FileSystem) Truncate(path string, size int64) error {
	f, err := v.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(size)
}

// MakeDir creates the directory at path and any missing parents.
func (v *FileSystem) MakeDir(path string) error {
	vp := NewVirtualPath(path)
	v.mu.RLock()
	defer v.mu.RUnlock()

	if e, err := v.stat(vp); err == nil {
		if e.Dir {
			return nil
		}
		return NewError(OpMkdir, vp.String(), ErrAlreadyExists)
	}
	m, rel, ok := v.resolve(vp)
	if !ok || !m.writable {
		return NewError(OpMkdir, vp.String(), ErrReadOnly)
	}
	if err := m.fs.MkdirAll(hostRel(rel), 0o755); err != nil {
		return NewError(OpMkdir, vp.String(), err)
	}
	return nil
}

// Remove deletes the file or directory tree at path. Mount points and the
// directories leading to them cannot be removed.
func (v *FileSystem) Remove(path string) error {
	vp := NewVirtualPath(path)
	v.mu.RLock()
	defer v.mu.RUnlock()

	m, rel, ok := v.resolve(vp)
	if !ok || !m.writable || rel == "" || v.leadsToMount(vp) {
		if _, err := v.stat(vp); err != nil {
			return NewError(OpRemove, vp.String(), ErrPathNotFound)
		}
		return NewError(OpRemove, vp.String(), ErrReadOnly)
	}
	if _, err := m.stat(rel); err != nil {
		return NewError(OpRemove, vp.String(), ErrPathNotFound)
	}
	if err := m.fs.RemoveAll(hostRel(rel)); err != nil {
		return NewError(OpRemove, vp.String(), err)
	}
	return nil
}

// Rename moves a file or directory within one writable mount.
func (v *FileSystem) Rename(from, to string) error {
	src, dst := NewVirtualPath(from), NewVirtualPath(to)
	v.mu.RLock()
	defer v.mu.RUnlock()

	sm, srel, ok := v.resolve(src)
	if !ok || !sm.writable || srel == "" {
		return NewError(OpRename, src.String(), ErrReadOnly)
	}
	if _, err := sm.stat(srel); err != nil {
		return NewError(OpRename, src.String(), ErrPathNotFound)
	}
	dm, drel, ok := v.resolve(dst)
	if !ok || !dm.writable || drel == "" {
		return NewError(OpRename, dst.String(), ErrReadOnly)
	}
	if dm != sm {
		return NewError(OpRename, dst.String(), ErrInvalidPath)
	}
	if _, err := v.stat(dst); err == nil {
		return NewError(OpRename, dst.String(), ErrAlreadyExists)
	}
	if rest, ok := src.Contains(dst); ok && rest != "" {
		return NewError(OpRename, dst.String(), ErrInvalidPath)
	}
	if err := sm.fs.Rename(hostRel(srel), hostRel(drel)); err != nil {
		return NewError(OpRename, src.String(), err)
	}
	return nil
}

func (v *FileSystem) entryFromInfo(name string, info os.FileInfo, readOnly bool) Entry {
	return Entry{
		Name:     name,
		Dir:      info.IsDir(),
		Size:     info.Size(),
		Mode:     info.Mode(),
		ModTime:  info.ModTime(),
		ReadOnly: readOnly,
	}
}

func (v *FileSystem) syntheticDir(name string) Entry {
	return Entry{Name: name, Dir: true, Mode: os.ModeDir | 0o555, ReadOnly: true}
}

// stat describes rel inside the mount.
func (m *mountEntry) stat(rel string) (os.FileInfo, error) {
	switch m.kind {
	case kindFile:
		if rel != "" {
			return nil, ErrPathNotFound
		}
		return m.fs.Stat(m.file)
	case kindFiles:
		if host, ok := m.files[rel]; ok {
			return m.fs.Stat(host)
		}
		if m.dirs[rel] {
			return dirInfo{name: baseName(rel)}, nil
		}
		return nil, ErrPathNotFound
	default:
		return m.fs.Stat(hostRel(rel))
	}
}

// underFile reports whether an ancestor of rel inside the mount, the mount
// root included, exists and is not a directory.
func (m *mountEntry) underFile(rel string) bool {
	for dir := rel; dir != ""; {
		dir = parentRel(dir)
		if info, err := m.stat(dir); err == nil && !info.IsDir() {
			return true
		}
	}
	return false
}

// readDir lists rel inside the mount.
func (m *mountEntry) readDir(rel string) ([]os.FileInfo, error) {
	switch m.kind {
	case kindFiles:
		if !m.dirs[rel] {
			return nil, ErrPathNotFound
		}
		prefix := joinRel(rel, "")
		seen := make(map[string]bool)
		var out []os.FileInfo
		for _, keys := range [][]string{sortedKeys(m.files), sortedKeys(m.dirs)} {
			for _, key := range keys {
				if key == rel || !strings.HasPrefix(key, prefix) {
					continue
				}
				name := childName(key[len(prefix):])
				if seen[name] {
					continue
				}
				seen[name] = true
				info, err := m.stat(joinRel(rel, name))
				if err != nil {
					vfsLogger.Debug("Skipping unreadable mounted file %q: %v", key, err)
					continue
				}
				out = append(out, namedInfo{FileInfo: info, name: name})
			}
		}
		return out, nil
	case kindDir:
		return afero.ReadDir(m.fs, hostRel(rel))
	}
	return nil, ErrNotDirectory
}

// backing maps rel to the path inside the mount's afero.Fs.
func (m *mountEntry) backing(rel string) string {
	switch m.kind {
	case kindFile:
		return m.file
	case kindFiles:
		return m.files[rel]
	}
	return hostRel(rel)
}

func (m *mountEntry) addFile(rel, host string) {
	m.files[rel] = host
	for dir := parentRel(rel); dir != ""; dir = parentRel(dir) {
		m.dirs[dir] = true
	}
}

func (m *mountEntry) addDir(rel string) {
	for dir := rel; dir != ""; dir = parentRel(dir) {
		m.dirs[dir] = true
	}
}

func requireRegular(fsys afero.Fs, name string) error {
	info, err := fsys.Stat(name)
	if err != nil {
		return ErrPathNotFound
	}
	if !info.Mode().IsRegular() {
		return ErrIsDirectory
	}
	return nil
}

func isWriteFlag(flag int) bool {
	return flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0
}

func hostRel(rel string) string {
	return "/" + rel
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func parentRel(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return ""
}

func baseName(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// dirInfo describes a directory that exists only in a mount's key set.
type dirInfo struct {
	name string
}

func (d dirInfo) Name() string       { return d.name }
func (d dirInfo) Size() int64        { return 0 }
func (d dirInfo) Mode() os.FileMode  { return os.ModeDir | 0o555 }
func (d dirInfo) ModTime() time.Time { return time.Time{} }
func (d dirInfo) IsDir() bool        { return true }
func (d dirInfo) Sys() any           { return nil }

// namedInfo renames a host file as it appears inside a mount.
type namedInfo struct {
	os.FileInfo
	name string
}

func (n namedInfo) Name() string { return n.name }
