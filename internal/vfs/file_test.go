package vfs

import (
	"context"
	"os"
	"syscall"
	"testing"

	"bazil.org/fuse"
	"github.com/spf13/afero"
)

func TestFileOperations(t *testing.T) {
	_, host, root := setupTestFS(t)
	ctx := context.Background()

	rom, _ := root.Lookup(ctx, "rom")
	programs, _ := rom.(*Dir).Lookup(ctx, "programs")
	node, err := programs.(*Dir).Lookup(ctx, "p1.lua")
	if err != nil {
		t.Fatalf("Failed to lookup file: %v", err)
	}
	file := node.(*File)

	t.Run("FileAttributes", func(t *testing.T) {
		attr := &fuse.Attr{}
		if err := file.Attr(ctx, attr); err != nil {
			t.Fatalf("Failed to get file attributes: %v", err)
		}
		if attr.Size != uint64(len("print('p1')")) {
			t.Errorf("Expected size %d, got %d", len("print('p1')"), attr.Size)
		}
		if attr.Mode&0o222 != 0 {
			t.Errorf("Mounted file should not be writable, mode %v", attr.Mode)
		}
	})

	t.Run("ReadFile", func(t *testing.T) {
		handle, err := file.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenReadOnly}, &fuse.OpenResponse{})
		if err != nil {
			t.Fatalf("Failed to open file: %v", err)
		}
		fh := handle.(*FileHandle)
		defer fh.Release(ctx, &fuse.ReleaseRequest{})

		resp := &fuse.ReadResponse{}
		if err := fh.Read(ctx, &fuse.ReadRequest{Offset: 6, Size: 64}, resp); err != nil {
			t.Fatalf("Failed to read: %v", err)
		}
		if string(resp.Data) != "'p1')" {
			t.Errorf("Expected %q, got %q", "'p1')", string(resp.Data))
		}
	})

	t.Run("WriteReadOnlyFile", func(t *testing.T) {
		_, err := file.Open(ctx, &fuse.OpenRequest{Flags: fuse.OpenWriteOnly}, &fuse.OpenResponse{})
		if err != syscall.EROFS {
			t.Errorf("Expected EROFS, got %v", err)
		}
	})

	t.Run("CreateWriteTruncate", func(t *testing.T) {
		ns, _ := root.Lookup(ctx, ".ns")
		req := &fuse.CreateRequest{Name: "out.txt", Flags: fuse.OpenReadWrite, Mode: 0o644}
		created, handle, err := ns.(*Dir).Create(ctx, req, &fuse.CreateResponse{})
		if err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
		fh := handle.(*FileHandle)

		wresp := &fuse.WriteResponse{}
		if err := fh.Write(ctx, &fuse.WriteRequest{Data: []byte("hello world"), Offset: 0}, wresp); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		if wresp.Size != len("hello world") {
			t.Errorf("Expected %d bytes written, got %d", len("hello world"), wresp.Size)
		}
		if err := fh.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
			t.Fatalf("Failed to release: %v", err)
		}

		sreq := &fuse.SetattrRequest{Valid: fuse.SetattrSize, Size: 5}
		sresp := &fuse.SetattrResponse{}
		if err := created.(*File).Setattr(ctx, sreq, sresp); err != nil {
			t.Fatalf("Failed to truncate: %v", err)
		}
		if sresp.Attr.Size != 5 {
			t.Errorf("Expected size 5 after truncate, got %d", sresp.Attr.Size)
		}

		data, err := afero.ReadFile(host, "/work/out.txt")
		if err != nil {
			t.Fatalf("Failed to read host file: %v", err)
		}
		if string(data) != "hello" {
			t.Errorf("Expected %q on host, got %q", "hello", string(data))
		}
	})

	t.Run("RemoveFile", func(t *testing.T) {
		ns, _ := root.Lookup(ctx, ".ns")
		if err := ns.(*Dir).Remove(ctx, &fuse.RemoveRequest{Name: "out.txt"}); err != nil {
			t.Fatalf("Failed to remove file: %v", err)
		}
		if _, err := host.Stat("/work/out.txt"); !os.IsNotExist(err) {
			t.Errorf("Expected host file to be removed, got %v", err)
		}
		if err := programs.(*Dir).Remove(ctx, &fuse.RemoveRequest{Name: "p1.lua"}); err != syscall.EROFS {
			t.Errorf("Expected EROFS removing a mounted file, got %v", err)
		}
	})
}

func TestAppendThroughHandle(t *testing.T) {
	ctx := context.Background()
	work := t.TempDir()
	if err := os.WriteFile(work+"/log.txt", []byte("a"), 0o644); err != nil {
		t.Fatalf("Failed to seed file: %v", err)
	}

	fsys := NewFileSystem(afero.NewOsFs())
	if _, err := fsys.MountWritable("/.ns", work); err != nil {
		t.Fatalf("Failed to mount work dir: %v", err)
	}
	node, err := (&Dir{fs: fsys, path: NewVirtualPath("/.ns")}).Lookup(ctx, "log.txt")
	if err != nil {
		t.Fatalf("Failed to lookup file: %v", err)
	}

	t.Run("Open", func(t *testing.T) {
		req := &fuse.OpenRequest{Flags: fuse.OpenWriteOnly | fuse.OpenAppend}
		handle, err := node.(*File).Open(ctx, req, &fuse.OpenResponse{})
		if err != nil {
			t.Fatalf("Failed to open for append: %v", err)
		}
		fh := handle.(*FileHandle)
		if err := fh.Write(ctx, &fuse.WriteRequest{Data: []byte("b"), Offset: 1}, &fuse.WriteResponse{}); err != nil {
			t.Fatalf("Append write failed: %v", err)
		}
		if err := fh.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
			t.Fatalf("Failed to release: %v", err)
		}
	})

	t.Run("Create", func(t *testing.T) {
		ns := &Dir{fs: fsys, path: NewVirtualPath("/.ns")}
		req := &fuse.CreateRequest{Name: "new.txt", Flags: fuse.OpenWriteOnly | fuse.OpenAppend, Mode: 0o644}
		_, handle, err := ns.Create(ctx, req, &fuse.CreateResponse{})
		if err != nil {
			t.Fatalf("Failed to create for append: %v", err)
		}
		fh := handle.(*FileHandle)
		if err := fh.Write(ctx, &fuse.WriteRequest{Data: []byte("c"), Offset: 0}, &fuse.WriteResponse{}); err != nil {
			t.Fatalf("Append write failed: %v", err)
		}
		if err := fh.Release(ctx, &fuse.ReleaseRequest{}); err != nil {
			t.Fatalf("Failed to release: %v", err)
		}
	})

	for name, want := range map[string]string{"log.txt": "ab", "new.txt": "c"} {
		data, err := os.ReadFile(work + "/" + name)
		if err != nil {
			t.Fatalf("Failed to read %s: %v", name, err)
		}
		if string(data) != want {
			t.Errorf("Expected %q in %s, got %q", want, name, string(data))
		}
	}
}
