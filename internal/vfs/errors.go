// Package vfs provides the computer-side virtual filesystem that mounts are
// made into.
//
// This file contains error types and error handling utilities.
package vfs

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"dynmount/internal/logging"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")

	// ErrPathNotFound indicates a virtual path doesn't exist
	ErrPathNotFound = errors.New("virtual path not found")

	// ErrInvalidPath indicates an invalid path format
	ErrInvalidPath = errors.New("invalid path format")

	// ErrReadOnly indicates attempt to modify a read-only location
	ErrReadOnly = errors.New("location is read-only")

	// ErrAlreadyExists indicates path already exists
	ErrAlreadyExists = errors.New("path already exists")

	// ErrNotMounted indicates an unmount of a path that is not a mount point
	ErrNotMounted = errors.New("not a mount point")

	// ErrNotDirectory indicates a directory operation on a file
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory indicates a file operation on a directory
	ErrIsDirectory = errors.New("is a directory")
)

// Error wraps filesystem errors with context about the operation and
// affected virtual path.
type Error struct {
	Op   string // Operation that failed (e.g., "mount", "readdir")
	Path string // Affected virtual path
	Err  error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// ToFuseError converts an error to the FUSE error code the kernel expects.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, ErrPathNotFound), errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, ErrInvalidPath):
		return syscall.EINVAL
	case errors.Is(err, ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, os.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, ErrNotDirectory):
		return syscall.ENOTDIR
	case errors.Is(err, ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	errLogger.Debug("Unknown error type, returning EIO: %v", err)
	return syscall.EIO
}

// NewError creates a new Error with the given operation, path, and underlying error
func NewError(op string, path string, err error) *Error {
	fsErr := &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
	errLogger.Trace("Created new error: %v", fsErr)
	return fsErr
}

// Common operation names for consistent logging and error reporting
const (
	OpMount   = "mount"   // Adding a mount
	OpUnmount = "unmount" // Removing a mount
	OpLookup  = "lookup"  // Looking up a path
	OpReadDir = "readdir" // Reading directory contents
	OpOpen    = "open"    // Opening a file
	OpCreate  = "create"  // Creating a new file
	OpWrite   = "write"   // Writing a file
	OpMkdir   = "mkdir"   // Creating a new directory
	OpRemove  = "remove"  // Removing a file or directory
	OpRename  = "rename"  // Renaming/moving a file or directory
)
