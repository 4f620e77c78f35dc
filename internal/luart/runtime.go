// Package luart runs Lua programs against the virtual filesystem.
//
// Programs see a small computer-like API: an fs table over the virtual
// filesystem, a peripheral table describing the attached peripheral, print
// writing to the runtime's output, and dofile reading from the virtual
// filesystem. Libraries that reach the host (io, debug, package, most of
// os) are removed.
package luart

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"dynmount/internal/logging"
	"dynmount/internal/manifest"
	"dynmount/internal/vfs"

	"github.com/Shopify/go-lua"
)

var (
	logger = logging.GetLogger().WithPrefix("lua")

	// ErrProgramNotFound indicates that no mounted script has the requested name
	ErrProgramNotFound = errors.New("program not found")
)

// ProgramsDir is where runnable programs are mounted.
const ProgramsDir = "/rom/programs"

// FileSystem is the part of the virtual filesystem programs can use.
type FileSystem interface {
	Stat(path string) (vfs.Entry, error)
	ReadDir(path string) ([]vfs.Entry, error)
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	MakeDir(path string) error
	Remove(path string) error
	Rename(from, to string) error
}

// Options configures a Runtime.
type Options struct {
	FS             FileSystem
	PeripheralType string
	Namespace      string
	// Stdout receives print output. Defaults to os.Stdout.
	Stdout io.Writer
}

// Runtime is a Lua state wired to a virtual filesystem. It is not safe for
// concurrent use.
type Runtime struct {
	opts  Options
	state *lua.State
}

// New creates a runtime with the program API installed.
func New(opts Options) (*Runtime, error) {
	if opts.FS == nil {
		return nil, errors.New("luart: a filesystem is required")
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	r := &Runtime{opts: opts, state: lua.NewState()}
	lua.OpenLibraries(r.state)
	if err := lua.DoString(r.state, sandbox); err != nil {
		return nil, fmt.Errorf("failed to restrict lua libraries: %w", err)
	}

	r.openFS()
	r.openPeripheral()
	r.openHost()
	r.state.Register("print", r.print)
	r.state.Register("dofile", r.dofile)
	return r, nil
}

const sandbox = `
local keep = { time = os.time, clock = os.clock, date = os.date }
os = keep
io = nil
debug = nil
package = nil
require = nil
loadfile = nil
`

// ProgramPath returns the virtual path of the named program. Names without
// an extension get ".lua".
func ProgramPath(name string) string {
	p := vfs.NewVirtualPath(name).String()
	if !strings.HasSuffix(p, ".lua") {
		p += ".lua"
	}
	return ProgramsDir + p
}

// RunProgram runs a mounted program by name, for example "dyn" or
// "ns/dyn/json".
func (r *Runtime) RunProgram(name string, args ...string) error {
	path := ProgramPath(name)
	entry, err := r.opts.FS.Stat(path)
	if err != nil || entry.Dir {
		return fmt.Errorf("%w: %s", ErrProgramNotFound, name)
	}
	return r.RunFile(path, args...)
}

// RunFile runs the script at a virtual path.
func (r *Runtime) RunFile(path string, args ...string) error {
	data, err := r.opts.FS.ReadFile(path)
	if err != nil {
		return err
	}
	return r.run(string(data), "@"+path, args)
}

// RunString runs source as a chunk named name.
func (r *Runtime) RunString(source, name string, args ...string) error {
	return r.run(source, "="+name, args)
}

func (r *Runtime) run(source, chunk string, args []string) error {
	l := r.state
	top := l.Top()
	defer l.SetTop(top)

	logger.Debug("Running %s with %d args", chunk, len(args))
	if err := lua.LoadBuffer(l, source, chunk, ""); err != nil {
		return fmt.Errorf("load %s: %w", strings.TrimLeft(chunk, "@="), err)
	}

	l.NewTable()
	for i, arg := range args {
		l.PushString(arg)
		l.RawSetInt(-2, i+1)
	}
	l.PushString(strings.TrimLeft(chunk, "@="))
	l.RawSetInt(-2, 0)
	l.SetGlobal("arg")

	for _, arg := range args {
		l.PushString(arg)
	}
	if err := l.ProtectedCall(len(args), 0, 0); err != nil {
		return fmt.Errorf("run %s: %w", strings.TrimLeft(chunk, "@="), err)
	}
	return nil
}

func (r *Runtime) print(l *lua.State) int {
	n := l.Top()
	l.Global("tostring")
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		l.PushValue(-1)
		l.PushValue(i)
		l.Call(1, 1)
		s, ok := l.ToString(-1)
		if !ok {
			lua.Errorf(l, "'tostring' must return a string to 'print'")
		}
		parts = append(parts, s)
		l.Pop(1)
	}
	fmt.Fprintln(r.opts.Stdout, strings.Join(parts, "\t"))
	return 0
}

func (r *Runtime) dofile(l *lua.State) int {
	path := lua.CheckString(l, 1)
	l.SetTop(1)

	data, err := r.opts.FS.ReadFile(path)
	if err != nil {
		lua.Errorf(l, "%s", err.Error())
	}
	if err := lua.LoadBuffer(l, string(data), "@"+vfs.NewVirtualPath(path).String(), ""); err != nil {
		lua.Errorf(l, "%s", err.Error())
	}
	l.Call(0, lua.MultipleReturns)
	return l.Top() - 1
}

func (r *Runtime) openPeripheral() {
	lua.NewLibrary(r.state, []lua.RegistryFunction{
		{Name: "getType", Function: func(l *lua.State) int {
			if r.opts.PeripheralType == "" {
				l.PushNil()
				return 1
			}
			l.PushString(r.opts.PeripheralType)
			return 1
		}},
		{Name: "matches", Function: func(l *lua.State) int {
			pattern := lua.CheckString(l, 1)
			l.PushBoolean(r.opts.PeripheralType != "" && manifest.Matches(r.opts.PeripheralType, pattern))
			return 1
		}},
	})
	r.state.SetGlobal("peripheral")
}

func (r *Runtime) openHost() {
	l := r.state
	l.NewTable()
	l.PushString(r.opts.Namespace)
	l.SetField(-2, "namespace")
	l.PushString("dynmount")
	l.SetField(-2, "name")
	l.SetGlobal("_HOST")
}
