package mount

import (
	"fmt"
	"io/fs"
	"os"

	"dynmount/internal/logging"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

var (
	sessionLogger = logging.GetLogger().WithPrefix("session")
)

// Options configures a Session.
type Options struct {
	Layout Layout
	// HostFS is the host filesystem. Defaults to the OS filesystem.
	HostFS afero.Fs
	// Resources holds the host-shipped shared resources. A nil value, or a
	// missing file, makes the corresponding resource unavailable.
	Resources fs.FS
}

// Session tracks the mounts made for one peripheral attached to one
// computer. It is not safe for concurrent use; attach and detach are
// expected to come from a single goroutine.
type Session struct {
	id        string
	layout    Layout
	fs        afero.Fs
	resources fs.FS
	planner   *Planner
	bindings  []Binding
}

// NewSession creates a detached session.
func NewSession(opts Options) *Session {
	hostFS := opts.HostFS
	if hostFS == nil {
		hostFS = afero.NewOsFs()
	}
	return &Session{
		id:        uuid.NewString(),
		layout:    opts.Layout,
		fs:        hostFS,
		resources: opts.Resources,
		planner:   NewPlanner(hostFS, opts.Layout),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Layout returns the layout the session mounts from.
func (s *Session) Layout() Layout {
	return s.layout
}

// Attached reports whether the session currently holds any bindings.
func (s *Session) Attached() bool {
	return len(s.bindings) > 0
}

// Bindings returns a copy of the bindings currently held.
func (s *Session) Bindings() []Binding {
	out := make([]Binding, len(s.bindings))
	copy(out, s.bindings)
	return out
}

// Attach mounts the shared resources, the writable working directory and
// every program supporting the peripheral's type onto c. It never fails:
// problems are reported in the result, and a panic from the computer is
// recovered, leaving the result with whatever was mounted before it.
//
// Attach does not check whether the session is already attached; a second
// call adds a second, independent set of bindings.
func (s *Session) Attach(c Computer, p Peripheral) (res Result) {
	res.SessionID = s.id
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%v", r)
			sessionLogger.Error("Attach aborted: %v", err)
			res.Issues = append(res.Issues, Issue{
				Code:    IssueAttachFault,
				Message: "attach aborted",
				Cause:   err,
			})
		}
		s.bindings = append(s.bindings, res.Bindings...)
	}()

	s.mountResources(c, &res)
	s.ensureWorkDir(&res)

	writable := s.layout.WritablePath()
	if actual, err := c.MountWritable(writable, s.layout.WorkDir()); err != nil {
		sessionLogger.Debug("Failed to mount working directory at %s: %v", writable, err)
		res.Issues = append(res.Issues, Issue{
			Code:    IssueMountRejected,
			Path:    writable,
			Message: "failed to mount working directory",
			Cause:   err,
		})
	} else {
		res.Bindings = append(res.Bindings, Binding{Requested: writable, Actual: actual})
	}

	plan := s.planner.Plan(p.Type())
	res.Issues = append(res.Issues, plan.Issues...)
	plan.Apply(c, &res)

	sessionLogger.Info("Attached %q: %d bindings, %d issues", p.Type(), len(res.Bindings), len(res.Issues))
	return res
}

func (s *Session) mountResources(c Computer, res *Result) {
	for _, r := range s.layout.SharedResources() {
		if !s.resourceAvailable(r.Name) {
			sessionLogger.Debug("Resource %s unavailable", r.Name)
			res.Issues = append(res.Issues, Issue{
				Code:    IssueResourceUnavailable,
				Path:    r.Name,
				Message: "shared resource unavailable",
			})
			continue
		}

		actual, err := c.MountResource(r.VirtualPath, s.resources, r.Name)
		if err != nil {
			sessionLogger.Debug("Failed to mount resource %s at %s: %v", r.Name, r.VirtualPath, err)
			res.Issues = append(res.Issues, Issue{
				Code:    IssueMountRejected,
				Path:    r.VirtualPath,
				Message: "failed to mount shared resource",
				Cause:   err,
			})
			continue
		}
		res.Bindings = append(res.Bindings, Binding{Requested: r.VirtualPath, Actual: actual})
	}
}

func (s *Session) resourceAvailable(name string) bool {
	if s.resources == nil {
		return false
	}
	info, err := fs.Stat(s.resources, name)
	return err == nil && !info.IsDir()
}

func (s *Session) ensureWorkDir(res *Result) {
	dir := s.layout.WorkDir()
	if _, err := s.fs.Stat(dir); err == nil {
		return
	} else if !os.IsNotExist(err) {
		sessionLogger.Debug("Stat %s: %v", dir, err)
	}

	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		sessionLogger.Error("Failed to create mount directory %s: %v", dir, err)
		res.Issues = append(res.Issues, Issue{
			Code:    IssueWorkDirFailed,
			Path:    dir,
			Message: "failed to create mount directory",
			Cause:   err,
		})
	}
}

// Detach unmounts every tracked path from c. A failing unmount is reported
// and does not stop the others; the session holds no bindings afterwards.
func (s *Session) Detach(c Computer) []Issue {
	var issues []Issue
	defer func() { s.bindings = nil }()

	for _, b := range s.bindings {
		if err := unmount(c, b.Actual); err != nil {
			sessionLogger.Debug("Failed to unmount %s: %v", b.Actual, err)
			issues = append(issues, Issue{
				Code:    IssueUnmountFailed,
				Path:    b.Actual,
				Message: "failed to unmount",
				Cause:   err,
			})
		}
	}

	sessionLogger.Info("Detached %d bindings", len(s.bindings))
	return issues
}

func unmount(c Computer, path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unmount panicked: %v", r)
		}
	}()
	return c.Unmount(path)
}
