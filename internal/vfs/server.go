package vfs

import (
	"fmt"
	"os"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

// Server exposes a FileSystem through FUSE.
type Server struct {
	fs         *FileSystem
	mountPoint string
	conn       *fuse.Conn
	done       chan error
}

// NewServer prepares a FUSE server for fsys at mountPoint.
func NewServer(fsys *FileSystem, mountPoint string) *Server {
	return &Server{fs: fsys, mountPoint: mountPoint}
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (s *Server) Root() (fusefs.Node, error) {
	vfsLogger.Trace("Getting root directory node")
	return &Dir{fs: s.fs, path: NewVirtualPath("/")}, nil
}

func waitForMount(mountpoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountpoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// Mount mounts the filesystem and serves it in the background.
func (s *Server) Mount() error {
	vfsLogger.Info("Mounting virtual filesystem")
	vfsLogger.Debug("Mount point: %s", s.mountPoint)
	vfsLogger.Debug("UID: %d, GID: %d", s.fs.uid, s.fs.gid)

	mountOpts := []fuse.MountOption{
		fuse.FSName("dynmount"),
		fuse.Subtype("dynmount"),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
	}
	if os.Getenv("DYNMOUNT_ALLOW_OTHER") != "" {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	c, err := fuse.Mount(s.mountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	s.conn = c
	s.done = make(chan error, 1)

	go func() {
		err := fusefs.Serve(c, s)
		if err != nil {
			vfsLogger.Error("FUSE server error: %v", err)
		}
		s.done <- err
	}()

	if err := waitForMount(s.mountPoint); err != nil {
		c.Close()
		vfsLogger.Error("Mount point not ready: %v", err)
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	vfsLogger.Info("Filesystem mounted successfully")
	return nil
}

// Done delivers the serve loop's exit error once the kernel releases the
// mount. It is nil before Mount.
func (s *Server) Done() <-chan error {
	return s.done
}

// Unmount cleanly unmounts the filesystem.
func (s *Server) Unmount() error {
	if s.conn == nil {
		return nil
	}
	vfsLogger.Info("Unmounting filesystem from: %s", s.mountPoint)
	if err := fuse.Unmount(s.mountPoint); err != nil {
		vfsLogger.Error("Unmount failed: %v", err)
		return err
	}
	err := s.conn.Close()
	s.conn = nil
	vfsLogger.Info("Unmount completed successfully")
	return err
}
