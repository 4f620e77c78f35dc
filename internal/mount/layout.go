// Package mount overlays installed programs onto a computer's virtual
// filesystem for the duration of a peripheral attachment.
package mount

import (
	"fmt"
	"path/filepath"
)

// Script and help file extensions used for installed programs.
const (
	ScriptExt = ".lua"
	HelpExt   = ".txt"
)

// IndexMarker is the key under which the index file is always added to the
// aggregated extra-files mount, so the helper directory exists even when no
// program contributes extra files.
const IndexMarker = "dyn/."

// Layout derives every host and virtual path used by a session from the
// installation base directory and namespace.
type Layout struct {
	// BaseDir is the per-installation base directory on the host.
	BaseDir string
	// Namespace names the installation inside the virtual filesystem.
	Namespace string
}

// WorkDir is the host directory exposed writable to the computer.
func (l Layout) WorkDir() string {
	return filepath.Join(l.BaseDir, "mount")
}

// InstalledDir is the host directory holding installed programs.
func (l Layout) InstalledDir() string {
	return filepath.Join(l.WorkDir(), "installed")
}

// ProgramDir is the host directory of a single program.
func (l Layout) ProgramDir(name string) string {
	return filepath.Join(l.InstalledDir(), name)
}

// ScriptFile is the host path of a program's script.
func (l Layout) ScriptFile(name string) string {
	return filepath.Join(l.ProgramDir(name), name+ScriptExt)
}

// HelpFile is the host path of a program's optional help text.
func (l Layout) HelpFile(name string) string {
	return filepath.Join(l.ProgramDir(name), name+HelpExt)
}

// ExtraFile is the host path of one of a program's extra files.
func (l Layout) ExtraFile(name, rel string) string {
	return filepath.Join(l.ProgramDir(name), "extra", filepath.FromSlash(rel))
}

// WritablePath is the virtual path of the writable working directory.
func (l Layout) WritablePath() string {
	return "/." + l.Namespace
}

// ExtrasPath is the virtual root of the aggregated extra-files mount.
func (l Layout) ExtrasPath() string {
	return fmt.Sprintf("/rom/programs/%s", l.Namespace)
}

// ProgramPath is the virtual path of a program's script.
func ProgramPath(name string) string {
	return fmt.Sprintf("/rom/programs/%s%s", name, ScriptExt)
}

// HelpPath is the virtual path of a program's help text.
func HelpPath(name string) string {
	return fmt.Sprintf("/rom/help/%s%s", name, HelpExt)
}

// ExtraKey is the key of an extra file inside the aggregated mount.
func ExtraKey(name, rel string) string {
	return fmt.Sprintf("%s/%s", name, rel)
}

// SharedResource is a host-shipped file mounted on every attach.
type SharedResource struct {
	// Name is the path of the resource inside the resource filesystem.
	Name string
	// VirtualPath is where the resource is mounted.
	VirtualPath string
}

// SharedResources lists the fixed resources in mount order.
func (l Layout) SharedResources() []SharedResource {
	return []SharedResource{
		{Name: "lua/mount/dyn.lua", VirtualPath: "/rom/programs/dyn.lua"},
		{Name: "lua/mount/dyn.txt", VirtualPath: "/rom/help/dyn.txt"},
		{Name: "lua/mount/json.lua", VirtualPath: fmt.Sprintf("/rom/programs/%s/dyn/json.lua", l.Namespace)},
		{Name: "lua/mount/json.txt", VirtualPath: "/rom/help/json.txt"},
	}
}
