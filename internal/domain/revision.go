package domain

import (
	"fmt"
	"time"
)

// ChangeKind classifies what a revision did to its page.
type ChangeKind string

const (
	// ChangeCreated is the first revision of a page.
	ChangeCreated ChangeKind = "created"
	// ChangeEdited is an ordinary source edit.
	ChangeEdited ChangeKind = "edited"
	// ChangeRenamed is a revision that moved the page to a new slug.
	ChangeRenamed ChangeKind = "renamed"
	// ChangeReverted is a revision flagged as a revert to an earlier state.
	ChangeReverted ChangeKind = "reverted"
	// ChangeDeleted is the synthetic terminal marker recording that the
	// page was removed remotely. It is never reported by the remote; the
	// fetcher fabricates it when a previously known page returns not-found.
	ChangeDeleted ChangeKind = "page-deleted"
)

// Revision is one historical snapshot of a page plus its authorship
// metadata. Immutable once fetched.
type Revision struct {
	// PageSlug is the page this revision belongs to.
	PageSlug string

	// Seq is the page-local revision number, 1..k, strictly increasing
	// with no gaps.
	Seq int

	// RemoteID is the site-wide revision identifier assigned by the
	// remote. Unique across all pages; used only for source fetches.
	RemoteID string

	// Timestamp is the original edit time as reported by the remote.
	Timestamp time.Time

	// Author is the display name of the editor.
	Author string

	// Comment is the edit comment, possibly empty.
	Comment string

	// Kind classifies the change.
	Kind ChangeKind

	// SlugAtTime is the page's slug at the time of this revision, which
	// may differ from PageSlug if the page was later renamed.
	SlugAtTime string

	// Title is the page's display title at the time of this revision.
	Title string

	// Source is the full source snapshot at this revision. Empty until
	// fetched; the terminal deletion marker never carries source.
	Source string
}

// Key returns a stable identifier for the revision within the site.
func (r *Revision) Key() string {
	return fmt.Sprintf("%s@%d", r.PageSlug, r.Seq)
}

// IsTerminal reports whether this revision is a deletion marker, after
// which no further revisions may exist for the page.
func (r *Revision) IsTerminal() bool {
	return r.Kind == ChangeDeleted
}

// Less orders revisions by original edit timestamp, ties broken by
// (page slug, sequence number) so the merged order is deterministic.
func (r *Revision) Less(other *Revision) bool {
	if !r.Timestamp.Equal(other.Timestamp) {
		return r.Timestamp.Before(other.Timestamp)
	}
	if r.PageSlug != other.PageSlug {
		return r.PageSlug < other.PageSlug
	}
	return r.Seq < other.Seq
}
