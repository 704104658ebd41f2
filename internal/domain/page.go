package domain

import (
	"context"
	"time"
)

// Page is one wiki page discovered during enumeration. Pages grow
// monotonically: once discovered they are never removed locally, even if
// the remote deletes them; deletion is recorded as a terminal revision.
type Page struct {
	// Slug is the unique, stable page identifier (unix name).
	Slug string

	// Title is the display title, which may change across revisions.
	Title string

	// RemoteID is the internal numeric page id assigned by the remote
	// engine. Required for revision-listing calls.
	RemoteID int64

	// Tags is the page's current tag set.
	Tags []string

	// Parent is the slug of the current parent page, if any.
	Parent string

	// Deleted reports that the remote no longer serves this page. Local
	// history is preserved; no further revisions will be fetched.
	Deleted bool

	// DiscoveredAt is when the enumerator first saw the slug.
	DiscoveredAt time.Time
}

// Checkpoint is the durable record of crawl progress for one page: the
// highest revision number already committed to the mirror.
type Checkpoint struct {
	PageSlug      string
	LastCommitted int
	UpdatedAt     time.Time
}

// CommitRecord links a committed revision to the resulting mirror commit.
// Its presence is the authority on "already applied" during resume.
type CommitRecord struct {
	PageSlug   string
	Seq        int
	CommitHash string
	CommitTime time.Time
}

// Renderer converts raw wiki source into the stored representation.
// The conversion itself is an external black box; implementations only
// adapt it. A nil or passthrough renderer stores raw source unchanged.
type Renderer interface {
	Render(ctx context.Context, source string) (string, error)
}

// RenderFunc adapts a function to the Renderer interface.
type RenderFunc func(ctx context.Context, source string) (string, error)

// Render implements Renderer.
func (f RenderFunc) Render(ctx context.Context, source string) (string, error) {
	return f(ctx, source)
}
