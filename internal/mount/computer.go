package mount

import "io/fs"

// Computer is the virtual filesystem of the computer a peripheral is attached
// to. Every mount method returns the path the mount actually occupies, or an
// error when the filesystem refuses it, typically because the name is taken.
type Computer interface {
	// MountResource mounts the file name from fsys read-only at virtualPath.
	MountResource(virtualPath string, fsys fs.FS, name string) (string, error)
	// MountFile mounts a single host file read-only at virtualPath.
	MountFile(virtualPath, hostFile string) (string, error)
	// MountFiles mounts a set of host files read-only under virtualPath,
	// keyed by their slash-separated path relative to it.
	MountFiles(virtualPath string, files map[string]string) (string, error)
	// MountWritable mounts a host directory read-write at virtualPath.
	MountWritable(virtualPath, hostDir string) (string, error)
	// Unmount removes the mount at path.
	Unmount(path string) error
}

// Peripheral is the device whose attachment triggers the mounts.
type Peripheral interface {
	Type() string
}

// PeripheralType adapts a plain type string to Peripheral.
type PeripheralType string

// Type implements Peripheral.
func (p PeripheralType) Type() string { return string(p) }
