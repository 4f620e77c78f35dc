package vfs

import (
	"context"
	"os"
	"syscall"
	"testing"

	"bazil.org/fuse"
	"github.com/spf13/afero"
)

func setupTestFS(t *testing.T) (*FileSystem, afero.Fs, *Dir) {
	t.Helper()
	host := newHostFS(t)
	vfs := NewFileSystem(host)

	if _, err := vfs.MountFile("/rom/programs/p1.lua", "/host/p1.lua"); err != nil {
		t.Fatalf("Failed to mount file: %v", err)
	}
	if _, err := vfs.MountWritable("/.ns", "/work"); err != nil {
		t.Fatalf("Failed to mount work dir: %v", err)
	}

	root, err := NewServer(vfs, t.TempDir()).Root()
	if err != nil {
		t.Fatalf("Failed to get root: %v", err)
	}
	return vfs, host, root.(*Dir)
}

func direntNames(entries []fuse.Dirent) map[string]fuse.DirentType {
	out := make(map[string]fuse.DirentType, len(entries))
	for _, e := range entries {
		out[e.Name] = e.Type
	}
	return out
}

func TestDirOperations(t *testing.T) {
	_, host, root := setupTestFS(t)
	ctx := context.Background()

	t.Run("RootDirectory", func(t *testing.T) {
		attr := &fuse.Attr{}
		if err := root.Attr(ctx, attr); err != nil {
			t.Errorf("Failed to get root attributes: %v", err)
		}
		if attr.Mode&os.ModeDir == 0 {
			t.Error("Root should be a directory")
		}
		if attr.Mode&0o200 != 0 {
			t.Error("Root should not be writable")
		}

		entries, err := root.ReadDirAll(ctx)
		if err != nil {
			t.Fatalf("Failed to read root directory: %v", err)
		}
		got := direntNames(entries)
		for _, name := range []string{".", "..", "rom", ".ns"} {
			if got[name] != fuse.DT_Dir {
				t.Errorf("Expected directory entry %q in root, got %v", name, got)
			}
		}
		if len(got) != 4 {
			t.Errorf("Expected 4 root entries, got %d", len(got))
		}
	})

	t.Run("LookupThroughSyntheticDirs", func(t *testing.T) {
		rom, err := root.Lookup(ctx, "rom")
		if err != nil {
			t.Fatalf("Failed to lookup rom: %v", err)
		}
		programs, err := rom.(*Dir).Lookup(ctx, "programs")
		if err != nil {
			t.Fatalf("Failed to lookup programs: %v", err)
		}
		node, err := programs.(*Dir).Lookup(ctx, "p1.lua")
		if err != nil {
			t.Fatalf("Failed to lookup p1.lua: %v", err)
		}
		if _, ok := node.(*File); !ok {
			t.Errorf("Expected *File, got %T", node)
		}

		if _, err := programs.(*Dir).Lookup(ctx, "missing.lua"); err != syscall.ENOENT {
			t.Errorf("Expected ENOENT, got %v", err)
		}
	})

	t.Run("CreateDirectory", func(t *testing.T) {
		ns, err := root.Lookup(ctx, ".ns")
		if err != nil {
			t.Fatalf("Failed to lookup .ns: %v", err)
		}

		newDir, err := ns.(*Dir).Mkdir(ctx, &fuse.MkdirRequest{Name: "newdir"})
		if err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		attr := &fuse.Attr{}
		if err := newDir.Attr(ctx, attr); err != nil {
			t.Errorf("Failed to get new directory attributes: %v", err)
		}
		if attr.Mode&os.ModeDir == 0 {
			t.Error("Created node should be a directory")
		}
		if info, err := host.Stat("/work/newdir"); err != nil || !info.IsDir() {
			t.Errorf("Expected /work/newdir on host, got %v", err)
		}
	})

	t.Run("MkdirOutsideWritableMount", func(t *testing.T) {
		rom, _ := root.Lookup(ctx, "rom")
		if _, err := rom.(*Dir).Mkdir(ctx, &fuse.MkdirRequest{Name: "x"}); err != syscall.EROFS {
			t.Errorf("Expected EROFS, got %v", err)
		}
	})

	t.Run("RemoveDirectory", func(t *testing.T) {
		ns, _ := root.Lookup(ctx, ".ns")
		dir := ns.(*Dir)

		if _, err := dir.Mkdir(ctx, &fuse.MkdirRequest{Name: "full"}); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := afero.WriteFile(host, "/work/full/f.txt", []byte("x"), 0o644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}

		if err := dir.Remove(ctx, &fuse.RemoveRequest{Name: "full", Dir: true}); err != syscall.ENOTEMPTY {
			t.Errorf("Expected ENOTEMPTY, got %v", err)
		}
		if err := dir.Remove(ctx, &fuse.RemoveRequest{Name: "newdir", Dir: true}); err != nil {
			t.Errorf("Failed to remove empty directory: %v", err)
		}
		if _, err := dir.Lookup(ctx, "newdir"); err != syscall.ENOENT {
			t.Errorf("Expected removed directory to be gone, got %v", err)
		}
	})

	t.Run("RenameFile", func(t *testing.T) {
		ns, _ := root.Lookup(ctx, ".ns")
		dir := ns.(*Dir)
		full, _ := dir.Lookup(ctx, "full")

		req := &fuse.RenameRequest{OldName: "notes.txt", NewName: "moved.txt"}
		if err := dir.Rename(ctx, req, full); err != nil {
			t.Fatalf("Failed to rename: %v", err)
		}
		if _, err := host.Stat("/work/full/moved.txt"); err != nil {
			t.Errorf("Expected moved file on host: %v", err)
		}

		rom, _ := root.Lookup(ctx, "rom")
		req = &fuse.RenameRequest{OldName: "full", NewName: "full"}
		if err := dir.Rename(ctx, req, rom); err != syscall.EROFS {
			t.Errorf("Expected EROFS moving out of the writable mount, got %v", err)
		}
	})
}
