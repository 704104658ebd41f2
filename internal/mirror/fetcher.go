package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mirrorkit/wikidot-mirror/internal/checkpoint"
	"github.com/mirrorkit/wikidot-mirror/internal/domain"
	"github.com/mirrorkit/wikidot-mirror/internal/logger"
	"github.com/mirrorkit/wikidot-mirror/internal/wikidot"
)

// Stream is a lazy sequence of pending revisions for one page, oldest
// first, already filtered to exclude checkpointed work. Next returns
// io.EOF when the page has nothing further to replay.
type Stream interface {
	Slug() string
	Next(ctx context.Context) (*domain.Revision, error)
}

// Fetcher lists revision metadata per page and fetches source
// snapshots lazily. All remote calls go through the shared client and
// therefore the shared rate/retry controller.
type Fetcher struct {
	client *wikidot.Client
	store  *checkpoint.Store

	// Depth bounds how many trailing revisions to fetch per page;
	// zero means the full history.
	Depth int
}

// NewFetcher creates a fetcher over the given client and checkpoint store.
func NewFetcher(client *wikidot.Client, store *checkpoint.Store) *Fetcher {
	return &Fetcher{client: client, store: store}
}

// PageStream builds the pending-revision stream for one page.
//
// A remote not-found is not an error: for a page with committed local
// history it yields a single terminal deletion marker at checkpoint+1;
// for a page we never committed anything for, it yields an empty
// stream (nothing to preserve, nothing to delete).
func (f *Fetcher) PageStream(ctx context.Context, slug string) (Stream, error) {
	last, err := f.store.LastCommitted(ctx, slug)
	if err != nil {
		return nil, err
	}

	page, err := f.store.GetPage(ctx, slug)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if page != nil && page.Deleted {
		// Terminal marker already replayed on a previous pass.
		return emptyStream(slug), nil
	}

	pageID, err := f.client.PageID(ctx, slug)
	if errors.Is(err, wikidot.ErrPageNotFound) {
		if last == 0 {
			logger.Info("page %s gone before first fetch, nothing to mirror", slug)
			return emptyStream(slug), nil
		}
		logger.Info("page %s deleted remotely, scheduling terminal marker", slug)
		return &sliceStream{slug: slug, revs: []domain.Revision{deletionMarker(slug, last)}}, nil
	}
	if err != nil {
		return nil, err
	}

	metas, err := f.client.ListRevisions(ctx, pageID, f.Depth)
	if err != nil {
		return nil, err
	}
	if len(metas) == 0 {
		return nil, fmt.Errorf("page %s: %w: empty revision log", slug, domain.ErrMalformedResponse)
	}

	// Refresh page metadata while we are here; tags only exist on the
	// rendered page, never in history.
	tags, err := f.client.PageTags(ctx, slug)
	if err != nil && !errors.Is(err, wikidot.ErrPageNotFound) {
		logger.Warn("page %s: tags unavailable: %v", slug, err)
	}
	if err := f.store.UpsertPage(ctx, domain.Page{Slug: slug, RemoteID: pageID, Tags: tags}); err != nil {
		return nil, err
	}

	pending := make([]domain.Revision, 0, len(metas))
	for _, meta := range metas {
		if meta.Seq <= last {
			continue
		}
		pending = append(pending, domain.Revision{
			PageSlug:  slug,
			Seq:       meta.Seq,
			RemoteID:  meta.RemoteID,
			Timestamp: meta.Timestamp,
			Author:    meta.Author,
			Comment:   meta.Comment,
			Kind:      classify(meta),
		})
	}
	return &sliceStream{slug: slug, revs: pending}, nil
}

// FetchSource fills in the revision's source snapshot and the
// per-revision fields only the version module exposes. Terminal
// markers carry no source and are returned as-is.
//
// A definitive not-found means the page (or its history) vanished
// between the metadata listing and this fetch; it surfaces as
// domain.ErrPageGone so the caller can record a terminal marker
// instead of treating the page as failed.
func (f *Fetcher) FetchSource(ctx context.Context, rev *domain.Revision) error {
	if rev.IsTerminal() {
		return nil
	}

	source, err := f.client.RevisionSource(ctx, rev.RemoteID)
	if err != nil {
		if wikidot.IsNotFound(err) {
			return fmt.Errorf("page %s rev %d: %w", rev.PageSlug, rev.Seq, domain.ErrPageGone)
		}
		return fmt.Errorf("page %s rev %d source: %w", rev.PageSlug, rev.Seq, err)
	}

	info, err := f.client.RevisionVersion(ctx, rev.RemoteID)
	if err != nil {
		if wikidot.IsNotFound(err) {
			return fmt.Errorf("page %s rev %d: %w", rev.PageSlug, rev.Seq, domain.ErrPageGone)
		}
		return fmt.Errorf("page %s rev %d version: %w", rev.PageSlug, rev.Seq, err)
	}

	rev.Source = source
	rev.SlugAtTime = info.SlugAtTime
	rev.Title = info.Title
	return nil
}

// classify maps the remote's one-letter change flag onto a ChangeKind.
func classify(meta wikidot.RevisionMeta) domain.ChangeKind {
	switch meta.Flag {
	case "N":
		return domain.ChangeCreated
	case "R":
		return domain.ChangeRenamed
	}
	if meta.Seq == 1 {
		return domain.ChangeCreated
	}
	if strings.HasPrefix(meta.Comment, "Reverted to") || strings.HasPrefix(meta.Comment, "Revert to") {
		return domain.ChangeReverted
	}
	return domain.ChangeEdited
}

// deletionMarker fabricates the terminal revision recording a remote
// page removal at checkpoint+1.
func deletionMarker(slug string, lastCommitted int) domain.Revision {
	return domain.Revision{
		PageSlug:  slug,
		Seq:       lastCommitted + 1,
		Timestamp: time.Now().UTC(),
		Author:    "wdmirror",
		Comment:   "page deleted",
		Kind:      domain.ChangeDeleted,
	}
}

// sliceStream walks a preloaded metadata list. The list itself is small
// (revision metadata only); snapshots are fetched lazily downstream.
type sliceStream struct {
	slug string
	revs []domain.Revision
	pos  int
}

func (s *sliceStream) Slug() string { return s.slug }

func (s *sliceStream) Next(ctx context.Context) (*domain.Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.revs) {
		return nil, io.EOF
	}
	rev := s.revs[s.pos]
	s.pos++
	return &rev, nil
}

func emptyStream(slug string) Stream {
	return &sliceStream{slug: slug}
}
