package vfs

import (
	"errors"
	"syscall"
	"testing"
	"testing/fstest"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHostFS(t *testing.T) afero.Fs {
	t.Helper()
	host := afero.NewMemMapFs()
	files := map[string]string{
		"/host/p1.lua":             "print('p1')",
		"/host/p1.txt":             "p1 help",
		"/host/extra/p1/lib/x.lua": "return 1",
		"/host/extra/p2/b.txt":     "b",
		"/host/index.json":         `[{"name":"p1","peripherals":["*"]}]`,
		"/work/notes.txt":          "notes",
	}
	for name, content := range files {
		require.NoError(t, afero.WriteFile(host, name, []byte(content), 0o644))
	}
	return host
}

func resources() fstest.MapFS {
	return fstest.MapFS{
		"lua/mount/json.lua": {Data: []byte("return {}")},
	}
}

func names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestMountFile(t *testing.T) {
	v := NewFileSystem(newHostFS(t))

	actual, err := v.MountFile("rom/programs/p1.lua", "/host/p1.lua")
	require.NoError(t, err)
	assert.Equal(t, "/rom/programs/p1.lua", actual)

	data, err := v.ReadFile("/rom/programs/p1.lua")
	require.NoError(t, err)
	assert.Equal(t, "print('p1')", string(data))

	entry, err := v.Stat("/rom/programs/p1.lua")
	require.NoError(t, err)
	assert.False(t, entry.Dir)
	assert.True(t, entry.ReadOnly)
	assert.Equal(t, int64(len("print('p1')")), entry.Size)

	assert.True(t, v.IsDir("/"))
	assert.True(t, v.IsDir("/rom"))
	assert.True(t, v.IsDir("/rom/programs"))
	assert.False(t, v.Exists("/rom/help"))
	assert.False(t, v.Exists("/rom/programs/p1.lua/x"))
}

func TestMountRejectsMissingSources(t *testing.T) {
	v := NewFileSystem(newHostFS(t))

	_, err := v.MountFile("/a.lua", "/host/missing.lua")
	assert.ErrorIs(t, err, ErrPathNotFound)

	_, err = v.MountFile("/a.lua", "/host")
	assert.ErrorIs(t, err, ErrIsDirectory)

	_, err = v.MountResource("/json.lua", resources(), "lua/mount/missing.lua")
	assert.ErrorIs(t, err, ErrPathNotFound)

	_, err = v.MountResource("/json.lua", nil, "lua/mount/json.lua")
	assert.ErrorIs(t, err, ErrPathNotFound)

	_, err = v.MountWritable("/.ns", "/host/p1.lua")
	assert.ErrorIs(t, err, ErrNotDirectory)

	_, err = v.MountFiles("/x", map[string]string{"../escape": "/host/p1.lua"})
	assert.ErrorIs(t, err, ErrInvalidPath)

	assert.Empty(t, v.Mounts())
}

func TestMountCollisions(t *testing.T) {
	v := NewFileSystem(newHostFS(t))

	_, err := v.MountResource("/rom/programs/ns/dyn/json.lua", resources(), "lua/mount/json.lua")
	require.NoError(t, err)

	t.Run("root always collides", func(t *testing.T) {
		_, err := v.MountFile("/", "/host/p1.lua")
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("existing mount point", func(t *testing.T) {
		_, err := v.MountFile("/rom/programs/ns/dyn/json.lua", "/host/p1.lua")
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("ancestor of a mount point is free", func(t *testing.T) {
		_, err := v.MountFiles("/rom/programs/ns", map[string]string{
			"p1/lib/x.lua": "/host/extra/p1/lib/x.lua",
		})
		assert.NoError(t, err)
	})

	t.Run("path inside a mount", func(t *testing.T) {
		_, err := v.MountFile("/rom/programs/ns/p1/lib/x.lua", "/host/p1.lua")
		assert.ErrorIs(t, err, ErrAlreadyExists)

		_, err = v.MountFile("/rom/programs/ns/p1", "/host/p1.lua")
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("file in a writable mount", func(t *testing.T) {
		_, err := v.MountWritable("/.ns", "/work")
		require.NoError(t, err)

		_, err = v.MountFile("/.ns/notes.txt", "/host/p1.lua")
		assert.ErrorIs(t, err, ErrAlreadyExists)

		_, err = v.MountFile("/.ns/pinned.txt", "/host/p1.txt")
		assert.NoError(t, err)

		_, err = v.MountFile("/.ns/notes.txt/inner", "/host/p1.txt")
		assert.ErrorIs(t, err, ErrNotDirectory)
	})

	t.Run("below a single-file mount", func(t *testing.T) {
		_, err := v.MountFile("/rom/programs/p9.lua", "/host/p1.lua")
		require.NoError(t, err)

		_, err = v.MountFile("/rom/programs/p9.lua/inner", "/host/p1.txt")
		assert.ErrorIs(t, err, ErrNotDirectory)
		_, err = v.MountWritable("/rom/programs/p9.lua/a/b", "/work")
		assert.ErrorIs(t, err, ErrNotDirectory)

		_, err = v.Stat("/rom/programs/p9.lua/inner")
		assert.ErrorIs(t, err, ErrPathNotFound)
	})

	t.Run("below a file in a multi-file mount", func(t *testing.T) {
		_, err := v.MountFile("/rom/programs/ns/p1/lib/x.lua/y", "/host/p1.lua")
		assert.ErrorIs(t, err, ErrNotDirectory)
	})
}

func TestMountFilesDirectoryKeys(t *testing.T) {
	v := NewFileSystem(newHostFS(t))

	_, err := v.MountResource("/rom/programs/ns/dyn/json.lua", resources(), "lua/mount/json.lua")
	require.NoError(t, err)
	_, err = v.MountFiles("/rom/programs/ns", map[string]string{
		"p1/lib/x.lua": "/host/extra/p1/lib/x.lua",
		"p2/b.txt":     "/host/extra/p2/b.txt",
		"dyn/.":        "/host/index.json",
	})
	require.NoError(t, err)

	root, err := v.ReadDir("/rom/programs/ns")
	require.NoError(t, err)
	assert.Equal(t, []string{"dyn", "p1", "p2"}, names(root))

	dyn, err := v.ReadDir("/rom/programs/ns/dyn")
	require.NoError(t, err)
	assert.Equal(t, []string{"index.json", "json.lua"}, names(dyn))

	index, err := v.ReadFile("/rom/programs/ns/dyn/index.json")
	require.NoError(t, err)
	assert.Contains(t, string(index), `"p1"`)

	json, err := v.ReadFile("/rom/programs/ns/dyn/json.lua")
	require.NoError(t, err)
	assert.Equal(t, "return {}", string(json))

	lib, err := v.ReadDir("/rom/programs/ns/p1/lib")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.lua"}, names(lib))

	_, err = v.ReadDir("/rom/programs/ns/p2/b.txt")
	assert.ErrorIs(t, err, ErrNotDirectory)

	_, err = v.ReadFile("/rom/programs/ns/p1")
	assert.ErrorIs(t, err, ErrIsDirectory)
}

func TestMountFilesMarkerWithoutIndex(t *testing.T) {
	v := NewFileSystem(newHostFS(t))

	_, err := v.MountFiles("/rom/programs/ns", map[string]string{"dyn/.": "/host/absent.json"})
	require.NoError(t, err)

	assert.True(t, v.IsDir("/rom/programs/ns/dyn"))
	entries, err := v.ReadDir("/rom/programs/ns/dyn")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWritableMount(t *testing.T) {
	host := newHostFS(t)
	v := NewFileSystem(host)
	_, err := v.MountWritable("/.ns", "/work")
	require.NoError(t, err)
	_, err = v.MountFile("/rom/programs/p1.lua", "/host/p1.lua")
	require.NoError(t, err)

	require.NoError(t, v.MakeDir("/.ns/a"))
	require.NoError(t, v.WriteFile("/.ns/a/b.txt", []byte("hello")))

	data, err := afero.ReadFile(host, "/work/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	entries, err := v.ReadDir("/.ns")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "notes.txt"}, names(entries))
	assert.False(t, entries[0].ReadOnly)

	require.NoError(t, v.Rename("/.ns/a/b.txt", "/.ns/c.txt"))
	assert.False(t, v.Exists("/.ns/a/b.txt"))
	assert.True(t, v.Exists("/.ns/c.txt"))

	require.NoError(t, v.Truncate("/.ns/c.txt", 2))
	data, err = v.ReadFile("/.ns/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "he", string(data))

	require.NoError(t, v.Remove("/.ns/a"))
	assert.False(t, v.Exists("/.ns/a"))

	assert.ErrorIs(t, v.Remove("/.ns/missing"), ErrPathNotFound)
	assert.ErrorIs(t, v.Rename("/.ns/c.txt", "/.ns/notes.txt"), ErrAlreadyExists)
	assert.NoError(t, v.MakeDir("/.ns"))
}

func TestReadOnlyLocations(t *testing.T) {
	v := NewFileSystem(newHostFS(t))
	_, err := v.MountWritable("/.ns", "/work")
	require.NoError(t, err)
	_, err = v.MountFile("/rom/programs/p1.lua", "/host/p1.lua")
	require.NoError(t, err)

	assert.ErrorIs(t, v.WriteFile("/rom/programs/p1.lua", []byte("x")), ErrReadOnly)
	assert.ErrorIs(t, v.WriteFile("/rom/new.lua", []byte("x")), ErrReadOnly)
	assert.ErrorIs(t, v.WriteFile("/elsewhere.txt", []byte("x")), ErrReadOnly)
	assert.ErrorIs(t, v.MakeDir("/rom/x"), ErrReadOnly)
	assert.ErrorIs(t, v.Remove("/rom/programs/p1.lua"), ErrReadOnly)
	assert.ErrorIs(t, v.Remove("/rom"), ErrReadOnly)
	assert.ErrorIs(t, v.Remove("/.ns"), ErrReadOnly)
	assert.ErrorIs(t, v.Remove("/nothing"), ErrPathNotFound)
	assert.ErrorIs(t, v.Rename("/rom/programs/p1.lua", "/.ns/p1.lua"), ErrReadOnly)
	assert.ErrorIs(t, v.Rename("/.ns/notes.txt", "/rom/notes.txt"), ErrReadOnly)
	assert.NoError(t, v.MakeDir("/rom"))

	data, err := v.ReadFile("/rom/programs/p1.lua")
	require.NoError(t, err)
	assert.Equal(t, "print('p1')", string(data))
}

func TestInnermostMountWins(t *testing.T) {
	v := NewFileSystem(newHostFS(t))
	_, err := v.MountWritable("/.ns", "/work")
	require.NoError(t, err)
	_, err = v.MountFile("/.ns/pinned.txt", "/host/p1.txt")
	require.NoError(t, err)

	data, err := v.ReadFile("/.ns/pinned.txt")
	require.NoError(t, err)
	assert.Equal(t, "p1 help", string(data))

	entries, err := v.ReadDir("/.ns")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt", "pinned.txt"}, names(entries))

	assert.ErrorIs(t, v.Remove("/.ns/pinned.txt"), ErrReadOnly)
	assert.ErrorIs(t, v.WriteFile("/.ns/pinned.txt", nil), ErrReadOnly)
}

func TestUnmount(t *testing.T) {
	v := NewFileSystem(newHostFS(t))
	_, err := v.MountFile("/rom/programs/p1.lua", "/host/p1.lua")
	require.NoError(t, err)
	_, err = v.MountWritable("/.ns", "/work")
	require.NoError(t, err)

	assert.Equal(t, []MountInfo{
		{Path: "/.ns", Kind: "dir", Writable: true},
		{Path: "/rom/programs/p1.lua", Kind: "file"},
	}, v.Mounts())

	require.NoError(t, v.Unmount("/rom/programs/p1.lua"))
	assert.False(t, v.Exists("/rom/programs/p1.lua"))
	assert.False(t, v.Exists("/rom"))

	assert.ErrorIs(t, v.Unmount("/rom/programs/p1.lua"), ErrNotMounted)
	assert.ErrorIs(t, v.Unmount("/.ns/notes.txt"), ErrNotMounted)

	_, err = v.MountFile("/rom/programs/p1.lua", "/host/p1.lua")
	assert.NoError(t, err)
}

func TestToFuseError(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{nil, nil},
		{NewError(OpLookup, "/x", ErrPathNotFound), syscall.ENOENT},
		{NewError(OpMount, "/x", ErrInvalidPath), syscall.EINVAL},
		{NewError(OpWrite, "/x", ErrReadOnly), syscall.EROFS},
		{NewError(OpMount, "/x", ErrAlreadyExists), syscall.EEXIST},
		{NewError(OpReadDir, "/x", ErrNotDirectory), syscall.ENOTDIR},
		{NewError(OpOpen, "/x", ErrIsDirectory), syscall.EISDIR},
		{syscall.ENOSPC, syscall.ENOSPC},
		{errors.New("mystery"), syscall.EIO},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ToFuseError(tt.err), "%v", tt.err)
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewError(OpMount, "/rom/x", ErrAlreadyExists)
	assert.Equal(t, "operation mount on /rom/x failed: path already exists", err.Error())
	assert.Equal(t, "operation unmount failed: not a mount point", NewError(OpUnmount, "", ErrNotMounted).Error())
}
