package mount

import (
	"fmt"
	"sort"

	"dynmount/internal/logging"
	"dynmount/internal/manifest"

	"github.com/spf13/afero"
)

var (
	planLogger = logging.GetLogger().WithPrefix("planner")
)

// RequestKind distinguishes what a planned mount exposes.
type RequestKind int

const (
	// RequestScript mounts a program script as a single file.
	RequestScript RequestKind = iota
	// RequestHelp mounts a program help text as a single file.
	RequestHelp
	// RequestExtras mounts the aggregated extra files of all programs.
	RequestExtras
)

func (k RequestKind) String() string {
	switch k {
	case RequestScript:
		return "script"
	case RequestHelp:
		return "help"
	case RequestExtras:
		return "extras"
	default:
		return fmt.Sprintf("RequestKind(%d)", int(k))
	}
}

// Request is one mount the planner wants made.
type Request struct {
	Kind RequestKind
	// Program is empty for the aggregated extras request.
	Program     string
	VirtualPath string
	// HostPath is set for single-file requests.
	HostPath string
	// Files is set for the extras request.
	Files map[string]string
}

// Plan is the set of mounts for one peripheral type, in the order they are
// to be made. The extras request is always last.
type Plan struct {
	PeripheralType string
	Index          *manifest.Index
	// Programs lists accepted program names in manifest order.
	Programs []string
	Requests []Request
	Issues   []Issue
}

// Planner turns the installed-program index into mount requests.
type Planner struct {
	fs     afero.Fs
	layout Layout
}

// NewPlanner creates a planner reading from the host filesystem fsys.
func NewPlanner(fsys afero.Fs, layout Layout) *Planner {
	return &Planner{fs: fsys, layout: layout}
}

// Plan reads the index and selects the files of every program supporting
// peripheralType. Missing files are skipped; nothing here fails.
func (p *Planner) Plan(peripheralType string) *Plan {
	planLogger.Debug("Planning mounts for peripheral type %q", peripheralType)

	idx := manifest.Read(p.fs, p.layout.InstalledDir())
	plan := &Plan{PeripheralType: peripheralType, Index: idx}
	if idx.Err != nil {
		plan.Issues = append(plan.Issues, Issue{
			Code:    IssueIndexUnusable,
			Path:    idx.Path,
			Message: "program index unusable, no programs mounted",
			Cause:   idx.Err,
		})
	}
	for _, s := range idx.Skipped {
		plan.Issues = append(plan.Issues, Issue{
			Code:    IssueEntrySkipped,
			Path:    idx.Path,
			Message: fmt.Sprintf("entry %d: %s", s.Entry, s.Reason),
		})
	}

	extras := make(map[string]string)
	for _, program := range idx.Programs {
		if !program.Supports(peripheralType) {
			planLogger.Trace("Program %q does not support %q", program.Name, peripheralType)
			continue
		}

		script := p.layout.ScriptFile(program.Name)
		if !p.isFile(script) {
			planLogger.Debug("Program %q has no script, skipping", program.Name)
			plan.Issues = append(plan.Issues, Issue{
				Code:    IssueScriptMissing,
				Path:    script,
				Message: fmt.Sprintf("program %q has no script", program.Name),
			})
			continue
		}

		plan.Programs = append(plan.Programs, program.Name)
		plan.Requests = append(plan.Requests, Request{
			Kind:        RequestScript,
			Program:     program.Name,
			VirtualPath: ProgramPath(program.Name),
			HostPath:    script,
		})

		if help := p.layout.HelpFile(program.Name); p.isFile(help) {
			plan.Requests = append(plan.Requests, Request{
				Kind:        RequestHelp,
				Program:     program.Name,
				VirtualPath: HelpPath(program.Name),
				HostPath:    help,
			})
		}

		for _, rel := range program.Extra {
			extra := p.layout.ExtraFile(program.Name, rel)
			if !p.isFile(extra) {
				plan.Issues = append(plan.Issues, Issue{
					Code:    IssueExtraMissing,
					Path:    extra,
					Message: fmt.Sprintf("program %q extra file %q not found", program.Name, rel),
				})
				continue
			}
			extras[ExtraKey(program.Name, rel)] = extra
		}
	}

	extras[IndexMarker] = idx.Path
	plan.Requests = append(plan.Requests, Request{
		Kind:        RequestExtras,
		VirtualPath: p.layout.ExtrasPath(),
		Files:       extras,
	})

	planLogger.Debug("Planned %d mounts for %d programs", len(plan.Requests), len(plan.Programs))
	return plan
}

func (p *Planner) isFile(path string) bool {
	info, err := p.fs.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Apply makes the planned mounts on c, appending bindings and issues to res
// as it goes so a caller recovering from a fault keeps what was mounted. A
// rejected mount is logged and reported; the remaining requests are still
// attempted.
func (pl *Plan) Apply(c Computer, res *Result) {
	for _, req := range pl.Requests {
		var (
			actual string
			err    error
		)
		if req.Kind == RequestExtras {
			actual, err = c.MountFiles(req.VirtualPath, req.Files)
		} else {
			actual, err = c.MountFile(req.VirtualPath, req.HostPath)
		}

		if err != nil {
			message := rejectionMessage(req)
			planLogger.Debug("%s: %v", message, err)
			res.Issues = append(res.Issues, Issue{
				Code:    IssueMountRejected,
				Path:    req.VirtualPath,
				Message: message,
				Cause:   err,
			})
			continue
		}
		res.Bindings = append(res.Bindings, Binding{Requested: req.VirtualPath, Actual: actual})
	}
}

// ExtraKeys returns the keys of the extras request in sorted order.
func (pl *Plan) ExtraKeys() []string {
	for _, req := range pl.Requests {
		if req.Kind != RequestExtras {
			continue
		}
		keys := make([]string, 0, len(req.Files))
		for k := range req.Files {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	}
	return nil
}

func rejectionMessage(req Request) string {
	switch req.Kind {
	case RequestScript:
		return fmt.Sprintf("Failed to mount program %q. The name may be already taken.", req.Program)
	case RequestHelp:
		return fmt.Sprintf("Failed to mount help file for program %q.", req.Program)
	default:
		return "Failed to mount extra files."
	}
}
