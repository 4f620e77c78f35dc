// Package state persists a record of the last attached session so that
// other processes can report on it.
package state

import (
	"time"

	"dynmount/internal/mount"
)

// CurrentVersion is written into every record.
const CurrentVersion = 1

// Record describes one attach of a mount session.
type Record struct {
	// Identifier of the session that produced the record
	SessionID string `json:"session_id"`

	// Peripheral type the session was attached for
	PeripheralType string `json:"peripheral_type"`

	Namespace string `json:"namespace"`

	// Mounts in the order they were made
	Bindings []Binding `json:"bindings"`

	// Diagnostics raised while attaching
	Issues []Issue `json:"issues,omitempty"`

	AttachedAt time.Time  `json:"attached_at"`
	DetachedAt *time.Time `json:"detached_at,omitempty"`

	// Version for future compatibility
	Version int `json:"version"`
}

// Binding is a requested virtual path and the path the computer reported.
type Binding struct {
	Requested string `json:"requested"`
	Actual    string `json:"actual"`
}

// Issue is the serialisable form of mount.Issue.
type Issue struct {
	Code    string `json:"code"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// NewRecord captures an attach result.
func NewRecord(res mount.Result, peripheralType, namespace string) *Record {
	rec := &Record{
		SessionID:      res.SessionID,
		PeripheralType: peripheralType,
		Namespace:      namespace,
		Bindings:       make([]Binding, 0, len(res.Bindings)),
		AttachedAt:     time.Now().UTC(),
		Version:        CurrentVersion,
	}
	for _, b := range res.Bindings {
		rec.Bindings = append(rec.Bindings, Binding{Requested: b.Requested, Actual: b.Actual})
	}
	for _, issue := range res.Issues {
		rec.Issues = append(rec.Issues, Issue{Code: string(issue.Code), Path: issue.Path, Message: issue.Message})
	}
	return rec
}

// Attached reports whether the session has not been detached.
func (r *Record) Attached() bool {
	return r.DetachedAt == nil
}

// MarkDetached stamps the record with the detach time and any unmount
// failures.
func (r *Record) MarkDetached(issues []mount.Issue) {
	now := time.Now().UTC()
	r.DetachedAt = &now
	for _, issue := range issues {
		r.Issues = append(r.Issues, Issue{Code: string(issue.Code), Path: issue.Path, Message: issue.Message})
	}
}
