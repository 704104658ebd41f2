// Package mirror orchestrates the crawl: page enumeration, per-page
// history fetch, the globally ordered merge of all pending revisions,
// and their replay into a local git repository.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mirrorkit/wikidot-mirror/internal/checkpoint"
	"github.com/mirrorkit/wikidot-mirror/internal/domain"
	"github.com/mirrorkit/wikidot-mirror/internal/logger"
	"github.com/mirrorkit/wikidot-mirror/internal/wikidot"
)

// Options tune one mirroring run.
type Options struct {
	// Workers bounds concurrent metadata and snapshot fetches.
	Workers int
	// Lookahead bounds how many snapshots may be in flight ahead of
	// the commit loop.
	Lookahead int
	// Depth limits how many trailing revisions to mirror per page;
	// zero mirrors the full history.
	Depth int
	// MaxPages caps how many pages one run will process; zero is
	// unlimited.
	MaxPages int
	// SkipPages lists slugs to leave untouched.
	SkipPages []string
	// List filters which pages enumeration discovers.
	List wikidot.ListOptions
}

// Report summarises a finished (or aborted) run.
type Report struct {
	RunID          string
	PagesTotal     int
	CommitsApplied int
	Recovered      int
	Failed         map[string]error
	Duration       time.Duration
}

// FailedSlugs returns the failed page slugs in stable order.
func (r *Report) FailedSlugs() []string {
	slugs := make([]string, 0, len(r.Failed))
	for slug := range r.Failed {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// Engine wires enumerator, fetcher, assembler, prefetcher and writer
// into one run. Fetching fans out; committing stays single-file.
type Engine struct {
	client *wikidot.Client
	store  *checkpoint.Store
	writer *Writer
	opts   Options
}

// NewEngine assembles an engine over an open client, store and writer.
func NewEngine(client *wikidot.Client, store *checkpoint.Store, writer *Writer, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultLookahead
	}
	return &Engine{client: client, store: store, writer: writer, opts: opts}
}

// Run mirrors the whole site. Page-local failures are collected into
// the report; enumeration and checkpoint failures abort the run. On
// context cancellation the engine finishes the in-flight commit,
// flushes its checkpoint, and returns the partial report with the
// context's error.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	report := &Report{Failed: make(map[string]error)}

	runID, err := e.store.StartRun(ctx)
	if err != nil {
		return nil, err
	}
	report.RunID = runID

	if mark, err := e.store.LowWaterMark(ctx); err != nil {
		return nil, err
	} else if !mark.IsZero() {
		logger.Info("timeline replayed through %s, resuming from there", mark.UTC().Format(time.RFC3339))
	}

	slugs, err := NewEnumerator(e.client, e.store, e.opts.List).Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	slugs = e.restrict(slugs)
	report.PagesTotal = len(slugs)

	streams, err := e.openStreams(ctx, slugs, report.Failed)
	if err != nil {
		return nil, err
	}

	runErr := e.replay(ctx, streams, report)

	report.Duration = time.Since(started)
	finish := checkpoint.RunReport{
		ID:             runID,
		StartedAt:      started,
		FinishedAt:     time.Now(),
		PagesTotal:     report.PagesTotal,
		CommitsApplied: report.CommitsApplied,
		FailedSlugs:    report.FailedSlugs(),
	}
	if err := e.store.FinishRun(context.WithoutCancel(ctx), finish); err != nil {
		logger.Warn("recording run report: %v", err)
	}
	return report, runErr
}

// RunPage mirrors a single page's pending history, sequentially. Used
// for targeted refreshes; the checkpoint semantics are identical to a
// full run restricted to one page.
func (e *Engine) RunPage(ctx context.Context, slug string) (*Report, error) {
	started := time.Now()
	report := &Report{PagesTotal: 1, Failed: make(map[string]error)}

	fetcher := e.newFetcher()
	stream, err := fetcher.PageStream(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", slug, err)
	}

	for {
		rev, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := fetcher.FetchSource(ctx, rev); err != nil {
			if !errors.Is(err, domain.ErrPageGone) {
				return nil, err
			}
			if rev.Seq <= 1 {
				break
			}
			marker := deletionMarker(slug, rev.Seq-1)
			rev = &marker
		}
		applied, err := e.writer.Apply(ctx, rev)
		if err != nil {
			return nil, err
		}
		if applied {
			report.CommitsApplied++
		} else {
			report.Recovered++
		}
		if rev.IsTerminal() {
			break
		}
	}

	report.Duration = time.Since(started)
	return report, nil
}

// restrict applies the skip list and the page cap to the enumerated set.
func (e *Engine) restrict(slugs []string) []string {
	skip := make(map[string]struct{}, len(e.opts.SkipPages))
	for _, s := range e.opts.SkipPages {
		skip[s] = struct{}{}
	}
	kept := slugs[:0]
	for _, slug := range slugs {
		if _, drop := skip[slug]; drop {
			continue
		}
		kept = append(kept, slug)
		if e.opts.MaxPages > 0 && len(kept) >= e.opts.MaxPages {
			break
		}
	}
	return kept
}

func (e *Engine) newFetcher() *Fetcher {
	f := NewFetcher(e.client, e.store)
	f.Depth = e.opts.Depth
	return f
}

// openStreams fetches every page's pending revision metadata with a
// bounded worker pool. A page whose metadata cannot be fetched is
// reported and dropped; the rest of the site keeps going.
func (e *Engine) openStreams(ctx context.Context, slugs []string, failed map[string]error) ([]Stream, error) {
	fetcher := e.newFetcher()

	var mu sync.Mutex
	streams := make([]Stream, 0, len(slugs))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(e.opts.Workers)
	for _, slug := range slugs {
		slug := slug
		group.Go(func() error {
			stream, err := fetcher.PageStream(gctx, slug)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("page %s: history unavailable: %v", slug, err)
				failed[slug] = err
				return nil
			}
			streams = append(streams, stream)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return streams, nil
}

// replay drains the merged timeline through the writer. Checkpoint
// failures abort; everything else stays page-local.
func (e *Engine) replay(ctx context.Context, streams []Stream, report *Report) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	assembler := NewAssembler(streams)
	prefetcher := NewPrefetcher(e.newFetcher(), e.opts.Workers, e.opts.Lookahead)
	results, wait := prefetcher.Pipe(runCtx, assembler)

	var fatal error
	terminated := make(map[string]struct{})
	for res := range results {
		slug := res.Rev.PageSlug
		if _, done := terminated[slug]; done {
			continue
		}
		if _, broken := report.Failed[slug]; broken {
			// Later revisions of a failed page must not commit: the
			// replayed history stays a gapless prefix.
			continue
		}

		rev := res.Rev
		if res.Err != nil {
			if !errors.Is(res.Err, domain.ErrPageGone) {
				logger.Warn("page %s rev %d: %v", slug, rev.Seq, res.Err)
				report.Failed[slug] = res.Err
				continue
			}
			// The page vanished between the metadata listing and the
			// snapshot fetch. With committed history this closes the
			// page with a terminal marker; without, there is nothing
			// to preserve.
			terminated[slug] = struct{}{}
			if rev.Seq <= 1 {
				logger.Info("page %s gone before first commit, skipping", slug)
				continue
			}
			logger.Info("page %s vanished mid-run, recording deletion", slug)
			marker := deletionMarker(slug, rev.Seq-1)
			rev = &marker
		}

		applied, err := e.writer.Apply(runCtx, rev)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrCheckpointUnavailable):
			fatal = err
			cancel()
		default:
			logger.Warn("page %s rev %d: %v", slug, rev.Seq, err)
			report.Failed[slug] = err
			continue
		}
		if fatal != nil {
			break
		}
		if rev.IsTerminal() {
			terminated[slug] = struct{}{}
		}

		if applied {
			report.CommitsApplied++
			if err := e.store.SetLowWaterMark(context.WithoutCancel(runCtx), rev.Timestamp); err != nil {
				logger.Warn("advancing low-water mark: %v", err)
			}
		} else {
			report.Recovered++
		}
	}
	// Drain so the pipeline goroutines can exit before Wait.
	for range results {
	}

	waitErr := wait()
	for slug, err := range assembler.Failed() {
		if _, dup := report.Failed[slug]; !dup {
			report.Failed[slug] = err
		}
	}

	if fatal != nil {
		return fatal
	}
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	return ctx.Err()
}
