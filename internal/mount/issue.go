package mount

import (
	"fmt"

	"go.uber.org/multierr"
)

// IssueCode is a machine-readable identifier for a non-fatal problem.
type IssueCode string

// Issue codes reported by planning, attach and detach.
const (
	IssueIndexUnusable       IssueCode = "index_unusable"
	IssueEntrySkipped        IssueCode = "entry_skipped"
	IssueScriptMissing       IssueCode = "script_missing"
	IssueExtraMissing        IssueCode = "extra_missing"
	IssueResourceUnavailable IssueCode = "resource_unavailable"
	IssueWorkDirFailed       IssueCode = "workdir_failed"
	IssueMountRejected       IssueCode = "mount_rejected"
	IssueAttachFault         IssueCode = "attach_fault"
	IssueUnmountFailed       IssueCode = "unmount_failed"
)

// Issue describes something that degraded an attach or detach without
// stopping it.
type Issue struct {
	Code    IssueCode
	Path    string
	Message string
	Cause   error
}

// String formats the issue for logs and CLI output.
func (i Issue) String() string {
	s := fmt.Sprintf("[%s] %s", i.Code, i.Message)
	if i.Path != "" {
		s += " (" + i.Path + ")"
	}
	if i.Cause != nil {
		s += ": " + i.Cause.Error()
	}
	return s
}

// Binding pairs a requested virtual path with the path the computer actually
// mounted.
type Binding struct {
	Requested string
	Actual    string
}

// Result is the outcome of an attach: the bindings it established and the
// issues it ran into.
type Result struct {
	SessionID string
	Bindings  []Binding
	Issues    []Issue
}

// Paths returns the actual paths of the result's bindings.
func (r Result) Paths() []string {
	paths := make([]string, 0, len(r.Bindings))
	for _, b := range r.Bindings {
		paths = append(paths, b.Actual)
	}
	return paths
}

// Degraded reports whether anything went wrong during the attach.
func (r Result) Degraded() bool {
	return len(r.Issues) > 0
}

// Err combines the causes of all issues, or returns nil when there are none
// with a cause.
func (r Result) Err() error {
	return IssuesErr(r.Issues)
}

// IssuesErr combines the causes of issues into a single error.
func IssuesErr(issues []Issue) error {
	var err error
	for _, issue := range issues {
		if issue.Cause != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", issue.Code, issue.Cause))
		}
	}
	return err
}
