package mount

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var errNameTaken = errors.New("name taken")

type mountCall struct {
	kind  string
	path  string
	host  string
	files map[string]string
}

// fakeComputer records mount calls and rejects paths listed in taken.
type fakeComputer struct {
	calls       []mountCall
	unmounts    []string
	taken       map[string]bool
	failUnmount map[string]bool
	panicOn     string
}

func newFakeComputer() *fakeComputer {
	return &fakeComputer{taken: map[string]bool{}, failUnmount: map[string]bool{}}
}

func (f *fakeComputer) mount(call mountCall) (string, error) {
	if call.path == f.panicOn {
		panic("boom at " + call.path)
	}
	if f.taken[call.path] {
		return "", errNameTaken
	}
	f.calls = append(f.calls, call)
	return call.path, nil
}

func (f *fakeComputer) MountResource(virtualPath string, fsys fs.FS, name string) (string, error) {
	return f.mount(mountCall{kind: "resource", path: virtualPath, host: name})
}

func (f *fakeComputer) MountFile(virtualPath, hostFile string) (string, error) {
	return f.mount(mountCall{kind: "file", path: virtualPath, host: hostFile})
}

func (f *fakeComputer) MountFiles(virtualPath string, files map[string]string) (string, error) {
	return f.mount(mountCall{kind: "files", path: virtualPath, files: files})
}

func (f *fakeComputer) MountWritable(virtualPath, hostDir string) (string, error) {
	return f.mount(mountCall{kind: "writable", path: virtualPath, host: hostDir})
}

func (f *fakeComputer) Unmount(path string) error {
	f.unmounts = append(f.unmounts, path)
	if f.failUnmount[path] {
		return errors.New("unmount failed")
	}
	if path == f.panicOn {
		panic("unmount boom")
	}
	return nil
}

func (f *fakeComputer) paths() []string {
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.path)
	}
	return out
}

func (f *fakeComputer) call(path string) (mountCall, bool) {
	for _, c := range f.calls {
		if c.path == path {
			return c, true
		}
	}
	return mountCall{}, false
}

var testLayout = Layout{BaseDir: "/base", Namespace: "ns"}

func testResources() fs.FS {
	return fstest.MapFS{
		"lua/mount/dyn.lua":  {Data: []byte("print('dyn')")},
		"lua/mount/dyn.txt":  {Data: []byte("dyn help")},
		"lua/mount/json.lua": {Data: []byte("return {}")},
		"lua/mount/json.txt": {Data: []byte("json help")},
	}
}

// installFixture writes an index and program files under testLayout.
type installFixture struct {
	t  *testing.T
	fs afero.Fs
}

func newInstallFixture(t *testing.T) *installFixture {
	return &installFixture{t: t, fs: afero.NewMemMapFs()}
}

func (f *installFixture) index(content string) *installFixture {
	f.write(filepath.Join(testLayout.InstalledDir(), "index.json"), content)
	return f
}

func (f *installFixture) program(name string, help bool, extras ...string) *installFixture {
	f.write(testLayout.ScriptFile(name), "print('"+name+"')")
	if help {
		f.write(testLayout.HelpFile(name), name+" help")
	}
	for _, rel := range extras {
		f.write(testLayout.ExtraFile(name, rel), rel)
	}
	return f
}

func (f *installFixture) write(path, content string) {
	f.t.Helper()
	require.NoError(f.t, f.fs.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, afero.WriteFile(f.fs, path, []byte(content), 0o644))
}
