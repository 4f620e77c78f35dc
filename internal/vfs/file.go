package vfs

import (
	"context"
	"io"
	"os"
	"sync"

	"dynmount/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/spf13/afero"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File is a FUSE node for a file of the virtual filesystem.
type File struct {
	fs   *FileSystem
	path VirtualPath
}

// Attr implements the Node interface, returning the file's attributes.
func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	fileLogger.Trace("Getting attributes for file: %q", f.path.String())

	entry, err := f.fs.Stat(f.path.String())
	if err != nil {
		fileLogger.Warn("Stat failed for %q: %v", f.path.String(), err)
		return ToFuseError(err)
	}

	a.Mode = entry.Mode.Perm()
	if entry.ReadOnly {
		a.Mode &^= 0o222
	}
	a.Size = safeInt64ToUint64(entry.Size)
	a.Mtime = entry.ModTime
	a.Atime = entry.ModTime // We don't track access time
	a.Ctime = entry.ModTime // We don't track creation time
	a.Uid = f.fs.uid
	a.Gid = f.fs.gid
	a.BlockSize = 4096
	a.Blocks = safeInt64ToUint64((entry.Size + 511) / 512)
	return nil
}

// Open implements the NodeOpener interface.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	flags := handleFlags(req.Flags) &^ os.O_CREATE
	fileLogger.Debug("Opening file %q with flags %v", f.path.String(), req.Flags)

	file, err := f.fs.OpenFile(f.path.String(), flags, 0)
	if err != nil {
		fileLogger.Warn("Failed to open file %q: %v", f.path.String(), err)
		return nil, ToFuseError(err)
	}

	resp.Flags |= fuse.OpenDirectIO
	return &FileHandle{file: file, path: f.path.String()}, nil
}

// Setattr implements the NodeSetattrer interface. Only size changes are
// applied.
func (f *File) Setattr(_ context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid.Size() {
		fileLogger.Debug("Truncating %q to %d bytes", f.path.String(), req.Size)
		if err := f.fs.Truncate(f.path.String(), int64(req.Size)); err != nil {
			return ToFuseError(err)
		}
	}
	return f.Attr(context.Background(), &resp.Attr)
}

// Fsync implements the NodeFsyncer interface.
func (f *File) Fsync(_ context.Context, _ *fuse.FsyncRequest) error {
	return nil
}

// handleFlags converts FUSE open flags for the backing file. O_APPEND is
// dropped because the kernel supplies the offset of every write and
// (*os.File).WriteAt refuses files opened for appending.
func handleFlags(flags fuse.OpenFlags) int {
	return int(flags) &^ os.O_APPEND
}

// FileHandle is an open file of the virtual filesystem.
type FileHandle struct {
	file afero.File
	path string // For logging purposes
	mu   sync.Mutex
}

// Read implements the HandleReader interface, reading data from the file.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Trace("Reading %d bytes from file %q at offset %d", req.Size, fh.path, req.Offset)

	resp.Data = make([]byte, req.Size)
	n, err := fh.file.ReadAt(resp.Data, req.Offset)
	if err != nil && err != io.EOF {
		fileLogger.Error("Failed to read from file: %v", err)
		return ToFuseError(err)
	}
	resp.Data = resp.Data[:n]
	return nil
}

// Write implements the HandleWriter interface.
func (fh *FileHandle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Trace("Writing %d bytes to file %q at offset %d", len(req.Data), fh.path, req.Offset)

	n, err := fh.file.WriteAt(req.Data, req.Offset)
	resp.Size = n
	if err != nil {
		fileLogger.Error("Failed to write to file: %v", err)
		return ToFuseError(err)
	}
	return nil
}

// Release implements the HandleReleaser interface, closing the file handle.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Debug("Closing file %q", fh.path)
	return fh.file.Close()
}
