package mirror

import (
	"container/heap"
	"context"
	"errors"
	"io"

	"github.com/mirrorkit/wikidot-mirror/internal/domain"
)

// Assembler merges per-page revision streams into one globally ordered
// timeline. Ordering is by (timestamp, slug, seq); within a page the
// per-stream order already guarantees ascending seq, so the merge
// preserves every page's local prefix while interleaving pages by
// original edit time.
type Assembler struct {
	streams map[string]Stream
	heads   headQueue
	primed  bool

	// failed collects pages whose stream broke mid-merge. Those pages
	// drop out of the timeline; everything else keeps flowing.
	failed map[string]error
}

// NewAssembler builds an assembler over the given streams.
func NewAssembler(streams []Stream) *Assembler {
	byslug := make(map[string]Stream, len(streams))
	for _, s := range streams {
		byslug[s.Slug()] = s
	}
	return &Assembler{
		streams: byslug,
		failed:  make(map[string]error),
	}
}

// Next returns the globally next revision, or io.EOF once every stream
// is drained. A stream error removes that page from the merge and is
// recorded; it never aborts the merge.
func (a *Assembler) Next(ctx context.Context) (*domain.Revision, error) {
	if !a.primed {
		if err := a.prime(ctx); err != nil {
			return nil, err
		}
	}
	if a.heads.Len() == 0 {
		return nil, io.EOF
	}

	head := heap.Pop(&a.heads).(*domain.Revision)
	a.advance(ctx, head.PageSlug)
	return head, nil
}

// Failed reports the pages dropped from the merge and why.
func (a *Assembler) Failed() map[string]error {
	return a.failed
}

func (a *Assembler) prime(ctx context.Context) error {
	a.primed = true
	heap.Init(&a.heads)
	for slug := range a.streams {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.advance(ctx, slug)
	}
	return nil
}

// advance pulls the next head from one page's stream into the heap.
func (a *Assembler) advance(ctx context.Context, slug string) {
	stream, ok := a.streams[slug]
	if !ok {
		return
	}
	rev, err := stream.Next(ctx)
	if err != nil {
		delete(a.streams, slug)
		if !errors.Is(err, io.EOF) {
			a.failed[slug] = err
		}
		return
	}
	heap.Push(&a.heads, rev)
}

// headQueue is a min-heap of current stream heads.
type headQueue []*domain.Revision

func (q headQueue) Len() int           { return len(q) }
func (q headQueue) Less(i, j int) bool { return q[i].Less(q[j]) }
func (q headQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *headQueue) Push(x any) { *q = append(*q, x.(*domain.Revision)) }

func (q *headQueue) Pop() any {
	old := *q
	n := len(old)
	rev := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return rev
}
