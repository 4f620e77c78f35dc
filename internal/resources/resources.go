// Package resources embeds the Lua programs and help pages shared by every
// mount session.
package resources

import (
	"embed"
	"io/fs"
)

//go:embed lua
var files embed.FS

// FS returns the embedded resource tree. Paths start with "lua/mount/".
func FS() fs.FS {
	return files
}
