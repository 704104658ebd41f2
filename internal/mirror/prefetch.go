package mirror

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/mirrorkit/wikidot-mirror/internal/domain"
)

const (
	// DefaultWorkers bounds concurrent snapshot fetches.
	DefaultWorkers = 4
	// DefaultLookahead bounds how far fetchers may run ahead of the
	// commit loop before blocking.
	DefaultLookahead = 16
)

// Result pairs a timeline revision with the outcome of its snapshot
// fetch. Results arrive in exact timeline order regardless of which
// worker finished first.
type Result struct {
	Rev *domain.Revision
	Err error
}

// SourceFetcher fills a revision's snapshot fields.
type SourceFetcher interface {
	FetchSource(ctx context.Context, rev *domain.Revision) error
}

// Prefetcher fetches revision snapshots concurrently while handing
// them to the consumer strictly in timeline order. The bounded
// in-flight window gives the writer backpressure over the fetchers.
type Prefetcher struct {
	fetcher   SourceFetcher
	workers   int
	lookahead int
}

// NewPrefetcher creates a prefetcher with the given concurrency; zero
// values fall back to the defaults.
func NewPrefetcher(fetcher SourceFetcher, workers, lookahead int) *Prefetcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	return &Prefetcher{fetcher: fetcher, workers: workers, lookahead: lookahead}
}

type future struct {
	rev  *domain.Revision
	done chan error
}

// Pipe drains the assembler through the fetch pool. The returned
// channel yields results in timeline order and closes when the
// timeline is exhausted or the context is cancelled; the wait function
// reports the first pipeline error after the channel closes.
func (p *Prefetcher) Pipe(ctx context.Context, a *Assembler) (<-chan Result, func() error) {
	group, gctx := errgroup.WithContext(ctx)

	jobs := make(chan *future)
	ordered := make(chan *future, p.lookahead)
	out := make(chan Result)

	// Dispatcher: pulls the merged timeline and enqueues each revision
	// both for fetching and, in order, for delivery.
	group.Go(func() error {
		defer close(jobs)
		defer close(ordered)
		for {
			rev, err := a.Next(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			fut := &future{rev: rev, done: make(chan error, 1)}
			select {
			case jobs <- fut:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case ordered <- fut:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	for i := 0; i < p.workers; i++ {
		group.Go(func() error {
			for fut := range jobs {
				fut.done <- p.fetcher.FetchSource(gctx, fut.rev)
			}
			return nil
		})
	}

	// Collector: re-serialises completed fetches in dispatch order.
	group.Go(func() error {
		defer close(out)
		for fut := range ordered {
			var err error
			select {
			case err = <-fut.done:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case out <- Result{Rev: fut.rev, Err: err}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	return out, group.Wait
}
