// Package manifest reads the installed-program index and decides which
// programs support a given peripheral type.
package manifest

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"dynmount/internal/logging"

	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
)

// IndexFile is the name of the index inside the installed-programs directory.
const IndexFile = "index.json"

var (
	logger = logging.GetLogger().WithPrefix("manifest")

	// ErrIndexMissing indicates there is no index file.
	ErrIndexMissing = errors.New("index file not found")

	// ErrIndexNotRegular indicates the index path is a directory or device.
	ErrIndexNotRegular = errors.New("index is not a regular file")

	// ErrIndexSyntax indicates the index is not well-formed JSON.
	ErrIndexSyntax = errors.New("index is not valid JSON")

	// ErrIndexNotArray indicates the index parsed but is not a JSON array.
	ErrIndexNotArray = errors.New("index is not a JSON array")
)

// Program describes one installed program. Values are rebuilt on every read
// and never modified afterwards.
type Program struct {
	// Name is both the program directory and the script base name.
	Name string
	// Patterns are the supported peripheral patterns, in manifest order.
	Patterns []string
	// Extra are paths relative to the program's extra/ directory.
	Extra []string
}

// Skip records a manifest entry, or part of one, that was ignored.
type Skip struct {
	Entry  int    // zero-based position in the index array
	Reason string // human-readable reason
}

// Index is the outcome of reading the index file. Programs is always safe to
// range over; Err explains why it is empty when the file itself was unusable.
type Index struct {
	Path     string
	Programs []Program
	Skipped  []Skip
	Err      error
}

// IndexPath returns the location of the index inside installedDir.
func IndexPath(installedDir string) string {
	return filepath.Join(installedDir, IndexFile)
}

// Read loads the index from installedDir. It never fails: a missing or
// malformed index yields an Index without programs and with Err set.
func Read(fsys afero.Fs, installedDir string) *Index {
	idx := &Index{Path: IndexPath(installedDir)}
	logger.Debug("Reading program index: %s", idx.Path)

	info, err := fsys.Stat(idx.Path)
	if err != nil {
		idx.Err = fmt.Errorf("%w: %v", ErrIndexMissing, err)
		logger.Debug("No program index: %v", err)
		return idx
	}
	if !info.Mode().IsRegular() {
		idx.Err = ErrIndexNotRegular
		logger.Debug("Program index is not a regular file: %s", idx.Path)
		return idx
	}

	data, err := afero.ReadFile(fsys, idx.Path)
	if err != nil {
		idx.Err = fmt.Errorf("read index: %w", err)
		logger.Debug("Failed to read program index: %v", err)
		return idx
	}

	idx.Programs, idx.Skipped, idx.Err = Parse(data)
	if idx.Err != nil {
		logger.Debug("Ignoring program index %s: %v", idx.Path, idx.Err)
		return idx
	}

	logger.Debug("Program index loaded: %d programs, %d skipped", len(idx.Programs), len(idx.Skipped))
	return idx
}

// Parse decodes index content. Entries that do not have the expected shape
// are reported in the returned skips rather than failing the whole parse.
func Parse(data []byte) ([]Program, []Skip, error) {
	if !gjson.ValidBytes(data) {
		return nil, nil, ErrIndexSyntax
	}

	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, nil, ErrIndexNotArray
	}

	var (
		programs []Program
		skipped  []Skip
	)
	for i, entry := range root.Array() {
		program, skips, ok := decodeProgram(i, entry)
		skipped = append(skipped, skips...)
		if ok {
			programs = append(programs, program)
		}
	}
	return programs, skipped, nil
}

func decodeProgram(i int, entry gjson.Result) (Program, []Skip, bool) {
	var skips []Skip
	skip := func(format string, args ...interface{}) {
		skips = append(skips, Skip{Entry: i, Reason: fmt.Sprintf(format, args...)})
	}

	if !entry.IsObject() {
		skip("entry is not an object")
		return Program{}, skips, false
	}

	name := field(entry, "name")
	if name.Type != gjson.String {
		skip("missing or non-string \"name\"")
		return Program{}, skips, false
	}
	if !validName(name.Str) {
		skip("invalid program name %q", name.Str)
		return Program{}, skips, false
	}

	peripherals := field(entry, "peripherals")
	if !peripherals.IsArray() {
		skip("program %q: missing or non-array \"peripherals\"", name.Str)
		return Program{}, skips, false
	}

	program := Program{Name: name.Str}
	for j, pattern := range peripherals.Array() {
		if pattern.Type != gjson.String {
			skip("program %q: peripherals[%d] is not a string", name.Str, j)
			continue
		}
		program.Patterns = append(program.Patterns, pattern.Str)
	}

	if extra := field(entry, "extra"); extra.IsArray() {
		for j, file := range extra.Array() {
			if file.Type != gjson.String {
				skip("program %q: extra[%d] is not a string", name.Str, j)
				continue
			}
			if !validRelative(file.Str) {
				skip("program %q: extra[%d] %q escapes the extra directory", name.Str, j, file.Str)
				continue
			}
			program.Extra = append(program.Extra, file.Str)
		}
	}

	return program, skips, true
}

// field returns the value of key in obj. When the key repeats, the last
// occurrence wins.
func field(obj gjson.Result, key string) gjson.Result {
	var last gjson.Result
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.Str == key {
			last = v
		}
		return true
	})
	return last
}

// validName rejects names that would resolve outside the installed directory.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

func validRelative(rel string) bool {
	if rel == "" || path.IsAbs(rel) || strings.HasPrefix(rel, `\`) {
		return false
	}
	cleaned := path.Clean(strings.ReplaceAll(rel, `\`, "/"))
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}
