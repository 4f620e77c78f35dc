package luart

import (
	"dynmount/internal/vfs"

	"github.com/Shopify/go-lua"
)

// openFS installs the fs table. Query functions return plain values;
// mutations raise a Lua error on failure.
func (r *Runtime) openFS() {
	fsys := r.opts.FS
	lua.NewLibrary(r.state, []lua.RegistryFunction{
		{Name: "exists", Function: func(l *lua.State) int {
			_, err := fsys.Stat(lua.CheckString(l, 1))
			l.PushBoolean(err == nil)
			return 1
		}},
		{Name: "isDir", Function: func(l *lua.State) int {
			entry, err := fsys.Stat(lua.CheckString(l, 1))
			l.PushBoolean(err == nil && entry.Dir)
			return 1
		}},
		{Name: "isReadOnly", Function: func(l *lua.State) int {
			entry, err := fsys.Stat(lua.CheckString(l, 1))
			l.PushBoolean(err != nil || entry.ReadOnly)
			return 1
		}},
		{Name: "getSize", Function: func(l *lua.State) int {
			path := lua.CheckString(l, 1)
			entry, err := fsys.Stat(path)
			if err != nil {
				lua.Errorf(l, "%s: No such file", path)
			}
			l.PushInteger(int(entry.Size))
			return 1
		}},
		{Name: "list", Function: func(l *lua.State) int {
			path := lua.CheckString(l, 1)
			entries, err := fsys.ReadDir(path)
			if err != nil {
				lua.Errorf(l, "%s: Not a directory", path)
			}
			l.NewTable()
			for i, entry := range entries {
				l.PushString(entry.Name)
				l.RawSetInt(-2, i+1)
			}
			return 1
		}},
		{Name: "readAll", Function: func(l *lua.State) int {
			path := lua.CheckString(l, 1)
			data, err := fsys.ReadFile(path)
			if err != nil {
				l.PushNil()
				l.PushString(err.Error())
				return 2
			}
			l.PushString(string(data))
			return 1
		}},
		{Name: "write", Function: func(l *lua.State) int {
			path := lua.CheckString(l, 1)
			data := lua.CheckString(l, 2)
			if err := fsys.WriteFile(path, []byte(data)); err != nil {
				lua.Errorf(l, "%s", err.Error())
			}
			return 0
		}},
		{Name: "makeDir", Function: func(l *lua.State) int {
			if err := fsys.MakeDir(lua.CheckString(l, 1)); err != nil {
				lua.Errorf(l, "%s", err.Error())
			}
			return 0
		}},
		{Name: "delete", Function: func(l *lua.State) int {
			if err := fsys.Remove(lua.CheckString(l, 1)); err != nil {
				lua.Errorf(l, "%s", err.Error())
			}
			return 0
		}},
		{Name: "move", Function: func(l *lua.State) int {
			if err := fsys.Rename(lua.CheckString(l, 1), lua.CheckString(l, 2)); err != nil {
				lua.Errorf(l, "%s", err.Error())
			}
			return 0
		}},
		{Name: "combine", Function: func(l *lua.State) int {
			base := lua.CheckString(l, 1)
			child := lua.CheckString(l, 2)
			combined := vfs.NewVirtualPath(base + "/" + child).String()
			l.PushString(combined[1:])
			return 1
		}},
		{Name: "getName", Function: func(l *lua.State) int {
			vp := vfs.NewVirtualPath(lua.CheckString(l, 1))
			if vp.IsRoot() {
				l.PushString("root")
				return 1
			}
			l.PushString(vp.Base())
			return 1
		}},
	})
	r.state.SetGlobal("fs")
}
