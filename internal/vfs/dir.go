package vfs

import (
	"context"
	"os"
	"syscall"

	"dynmount/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir is a FUSE node for a directory of the virtual filesystem. It may be
// the root, a directory leading to mount points, or a directory inside a
// mount.
type Dir struct {
	fs   *FileSystem
	path VirtualPath
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting attributes for directory: %q", d.path.String())

	entry, err := d.fs.Stat(d.path.String())
	if err != nil {
		return ToFuseError(err)
	}

	a.Mode = os.ModeDir | 0o755
	if entry.ReadOnly {
		a.Mode = os.ModeDir | 0o555
	}
	a.Mtime = entry.ModTime
	a.Uid = d.fs.uid
	a.Gid = d.fs.gid
	return nil
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	dirLogger.Debug("Looking up %q in directory %q", name, d.path.String())
	childPath := d.path.Join(name)

	entry, err := d.fs.Stat(childPath.String())
	if err != nil {
		dirLogger.Debug("Path not found: %q", childPath.String())
		return nil, syscall.ENOENT
	}
	if entry.Dir {
		return &Dir{fs: d.fs, path: childPath}, nil
	}
	return &File{fs: d.fs, path: childPath}, nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory contents.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading directory contents: %q", d.path.String())

	children, err := d.fs.ReadDir(d.path.String())
	if err != nil {
		return nil, ToFuseError(err)
	}

	entries := make([]fuse.Dirent, 0, len(children)+2)
	entries = append(entries, fuse.Dirent{Name: ".", Type: fuse.DT_Dir})
	entries = append(entries, fuse.Dirent{Name: "..", Type: fuse.DT_Dir})
	for _, child := range children {
		typ := fuse.DT_File
		if child.Dir {
			typ = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{Name: child.Name, Type: typ})
	}

	dirLogger.Debug("Directory %q contains %d entries", d.path.String(), len(entries))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface.
func (d *Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	newPath := d.path.Join(req.Name)
	dirLogger.Info("Creating directory %q", newPath.String())

	if err := d.fs.MakeDir(newPath.String()); err != nil {
		dirLogger.Warn("Failed to create directory: %v", err)
		return nil, ToFuseError(err)
	}
	return &Dir{fs: d.fs, path: newPath}, nil
}

// Create implements the NodeCreater interface.
func (d *Dir) Create(_ context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	newPath := d.path.Join(req.Name)
	dirLogger.Info("Creating file %q", newPath.String())

	f, err := d.fs.OpenFile(newPath.String(), handleFlags(req.Flags)|os.O_CREATE, req.Mode.Perm())
	if err != nil {
		dirLogger.Warn("Failed to create file: %v", err)
		return nil, nil, ToFuseError(err)
	}
	resp.Flags |= fuse.OpenDirectIO
	return &File{fs: d.fs, path: newPath}, &FileHandle{file: f, path: newPath.String()}, nil
}

// Remove implements the NodeRemover interface, removing a file or directory.
func (d *Dir) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	childPath := d.path.Join(req.Name)
	dirLogger.Info("Removing %q (isDir=%v)", childPath.String(), req.Dir)

	if req.Dir {
		children, err := d.fs.ReadDir(childPath.String())
		if err != nil {
			return ToFuseError(err)
		}
		if len(children) > 0 {
			dirLogger.Warn("Directory not empty: %q", childPath.String())
			return syscall.ENOTEMPTY
		}
	}

	if err := d.fs.Remove(childPath.String()); err != nil {
		dirLogger.Warn("Failed to remove %q: %v", childPath.String(), err)
		return ToFuseError(err)
	}
	return nil
}

// Rename implements the NodeRenamer interface, renaming/moving a file or directory.
func (d *Dir) Rename(_ context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		dirLogger.Error("Target is not a valid directory type")
		return syscall.EINVAL
	}

	oldPath := d.path.Join(req.OldName)
	newPath := target.path.Join(req.NewName)
	dirLogger.Info("Renaming %q to %q", oldPath.String(), newPath.String())

	if err := d.fs.Rename(oldPath.String(), newPath.String()); err != nil {
		dirLogger.Warn("Rename failed: %v", err)
		return ToFuseError(err)
	}
	return nil
}
