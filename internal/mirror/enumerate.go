package mirror

import (
	"context"
	"fmt"

	"github.com/mirrorkit/wikidot-mirror/internal/checkpoint"
	"github.com/mirrorkit/wikidot-mirror/internal/domain"
	"github.com/mirrorkit/wikidot-mirror/internal/logger"
	"github.com/mirrorkit/wikidot-mirror/internal/wikidot"
)

// Enumerator discovers the site's page set through the paginated
// listing module. Discovery is grow-only: pages already known to the
// checkpoint store stay in the set even when the remote stops listing
// them, which is how deletions get noticed.
type Enumerator struct {
	client *wikidot.Client
	store  *checkpoint.Store
	opts   wikidot.ListOptions
}

// NewEnumerator creates an enumerator with the given listing filters.
func NewEnumerator(client *wikidot.Client, store *checkpoint.Store, opts wikidot.ListOptions) *Enumerator {
	return &Enumerator{client: client, store: store, opts: opts}
}

// Enumerate walks every listing index and returns the full slug set.
// It resumes from the persisted cursor when a previous run was cut off
// mid-enumeration, and always finishes with a second pass from the
// first index so pages created during the walk are not missed. Any
// listing index that cannot be fetched is fatal: an incomplete page
// set must never look like a smaller site.
func (e *Enumerator) Enumerate(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var slugs []string
	add := func(names []string) {
		for _, name := range names {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			slugs = append(slugs, name)
		}
	}

	cursor, err := e.store.EnumerationCursor(ctx)
	if err != nil {
		return nil, err
	}
	if cursor > 0 {
		logger.Info("resuming enumeration at listing index %d", cursor+1)
	}

	last, err := e.walk(ctx, cursor+1, func(index int) error {
		return e.store.SetEnumerationCursor(ctx, index)
	}, add)
	if err != nil {
		return nil, err
	}

	// Terminal re-enumeration: one more full pass catches pages that
	// appeared while the first pass was in flight.
	if cursor > 0 || last > 1 {
		if _, err := e.walk(ctx, 1, nil, add); err != nil {
			return nil, err
		}
	}

	if err := e.store.ResetEnumeration(ctx); err != nil {
		return nil, err
	}

	// Fold in every page the store already knows about, deleted ones
	// included, so vanished pages still get their terminal marker.
	known, err := e.store.ListPages(ctx)
	if err != nil {
		return nil, err
	}
	for _, page := range known {
		add([]string{page.Slug})
	}

	logger.Info("enumeration complete: %d pages", len(slugs))
	return slugs, nil
}

// walk fetches listing indexes from start until the pager reports no
// further index, invoking checkpoint after each fully processed index.
func (e *Enumerator) walk(ctx context.Context, start int, cp func(int) error, add func([]string)) (int, error) {
	index := start
	for {
		listing, err := e.client.ListPagesIndex(ctx, index, e.opts)
		if err != nil {
			return index, fmt.Errorf("%w: listing index %d: %w", domain.ErrEnumerationIncomplete, index, err)
		}
		add(listing.Slugs)
		logger.Debug("listing index %d/%d: %d slugs", index, listing.TotalIndexes, len(listing.Slugs))
		if cp != nil {
			if err := cp(index); err != nil {
				return index, err
			}
		}
		if !listing.HasNext {
			return index, nil
		}
		index++
	}
}
