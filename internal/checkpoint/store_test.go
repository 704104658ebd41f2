package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorkit/wikidot-mirror/internal/domain"
)

// setupTestStore creates a temporary checkpoint store.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, store)

	t.Cleanup(func() {
		assert.NoError(t, store.Close())
	})
	return store
}

// ==================== Page Tests ====================

func TestUpsertPage_InsertAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	page := domain.Page{
		Slug:     "scp-173",
		Title:    "The Sculpture",
		RemoteID: 12345,
		Tags:     []string{"euclid", "scp"},
	}
	require.NoError(t, store.UpsertPage(ctx, page))

	got, err := store.GetPage(ctx, "scp-173")
	require.NoError(t, err)
	assert.Equal(t, "scp-173", got.Slug)
	assert.Equal(t, "The Sculpture", got.Title)
	assert.Equal(t, int64(12345), got.RemoteID)
	assert.Equal(t, []string{"euclid", "scp"}, got.Tags)
	assert.False(t, got.Deleted)
}

func TestUpsertPage_RefreshKeepsDeletedFlag(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertPage(ctx, domain.Page{Slug: "gone-page"}))
	require.NoError(t, store.MarkPageDeleted(ctx, "gone-page"))

	// A later upsert (re-discovery of metadata) must not resurrect it.
	require.NoError(t, store.UpsertPage(ctx, domain.Page{Slug: "gone-page", Title: "Gone"}))

	got, err := store.GetPage(ctx, "gone-page")
	require.NoError(t, err)
	assert.True(t, got.Deleted)
}

func TestGetPage_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetPage(context.Background(), "no-such-page")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPages(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, slug := range []string{"bravo", "alpha", "charlie"} {
		require.NoError(t, store.UpsertPage(ctx, domain.Page{Slug: slug}))
	}

	pages, err := store.ListPages(ctx)
	require.NoError(t, err)
	require.Len(t, pages, 3)
}

// ==================== Checkpoint Tests ====================

func TestRecord_GaplessPrefix(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	last, err := store.LastCommitted(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 0, last)

	require.NoError(t, store.Record(ctx, "main", 1, "hash-1"))
	require.NoError(t, store.Record(ctx, "main", 2, "hash-2"))

	last, err = store.LastCommitted(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 2, last)
}

func TestRecord_RejectsGaps(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "main", 1, "hash-1"))

	tests := []struct {
		name string
		seq  int
	}{
		{"skipping ahead", 3},
		{"replaying committed", 1},
		{"zero", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Record(ctx, "main", tt.seq, "hash-x")
			assert.ErrorIs(t, err, domain.ErrOutOfOrder)
		})
	}

	// The failed attempts must not have advanced the checkpoint.
	last, err := store.LastCommitted(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 1, last)
}

func TestRecord_IndependentPerPage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "page-a", 1, "a1"))
	require.NoError(t, store.Record(ctx, "page-b", 1, "b1"))
	require.NoError(t, store.Record(ctx, "page-b", 2, "b2"))

	lastA, err := store.LastCommitted(ctx, "page-a")
	require.NoError(t, err)
	lastB, err := store.LastCommitted(ctx, "page-b")
	require.NoError(t, err)
	assert.Equal(t, 1, lastA)
	assert.Equal(t, 2, lastB)
}

func TestCommitRecord(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, "main", 1, "deadbeef"))

	rec, err := store.CommitRecord(ctx, "main", 1)
	require.NoError(t, err)
	assert.Equal(t, "main", rec.PageSlug)
	assert.Equal(t, 1, rec.Seq)
	assert.Equal(t, "deadbeef", rec.CommitHash)

	_, err = store.CommitRecord(ctx, "main", 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// ==================== Rename and Parent Tracking Tests ====================

func TestLastName_DefaultsToSlug(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertPage(ctx, domain.Page{Slug: "original-name"}))

	name, err := store.LastName(ctx, "original-name")
	require.NoError(t, err)
	assert.Equal(t, "original-name", name)
}

func TestSetLastName(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertPage(ctx, domain.Page{Slug: "page"}))
	require.NoError(t, store.SetLastName(ctx, "page", "renamed-page"))

	name, err := store.LastName(ctx, "page")
	require.NoError(t, err)
	assert.Equal(t, "renamed-page", name)
}

func TestSetParent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertPage(ctx, domain.Page{Slug: "child"}))
	require.NoError(t, store.SetParent(ctx, "child", "hub"))

	got, err := store.GetPage(ctx, "child")
	require.NoError(t, err)
	assert.Equal(t, "hub", got.Parent)
}

// ==================== Enumeration Cursor Tests ====================

func TestEnumerationCursor_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	cursor, err := store.EnumerationCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, cursor)

	require.NoError(t, store.SetEnumerationCursor(ctx, 7))
	cursor, err = store.EnumerationCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, cursor)

	require.NoError(t, store.ResetEnumeration(ctx))
	cursor, err = store.EnumerationCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, cursor)
}

func TestLowWaterMark_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	mark, err := store.LowWaterMark(ctx)
	require.NoError(t, err)
	assert.True(t, mark.IsZero())

	when := time.Date(2011, 6, 20, 15, 4, 5, 0, time.UTC)
	require.NoError(t, store.SetLowWaterMark(ctx, when))

	mark, err = store.LowWaterMark(ctx)
	require.NoError(t, err)
	assert.True(t, when.Equal(mark))
}

// ==================== Run Report Tests ====================

func TestStartAndFinishRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	id, err := store.StartRun(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	err = store.FinishRun(ctx, RunReport{
		ID:             id,
		StartedAt:      time.Now().Add(-time.Minute),
		FinishedAt:     time.Now(),
		PagesTotal:     42,
		CommitsApplied: 17,
		FailedSlugs:    []string{"broken-page"},
	})
	require.NoError(t, err)
}

func TestRecentRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first, err := store.StartRun(ctx)
	require.NoError(t, err)
	require.NoError(t, store.FinishRun(ctx, RunReport{
		ID:             first,
		PagesTotal:     10,
		CommitsApplied: 4,
		FailedSlugs:    []string{"broken-page", "other-page"},
	}))

	// A second run interrupted before FinishRun.
	second, err := store.StartRun(ctx)
	require.NoError(t, err)

	runs, err := store.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first; the interrupted run has no finish time.
	assert.Equal(t, second, runs[0].ID)
	assert.True(t, runs[0].FinishedAt.IsZero())
	assert.Empty(t, runs[0].FailedSlugs)

	assert.Equal(t, first, runs[1].ID)
	assert.False(t, runs[1].FinishedAt.IsZero())
	assert.Equal(t, 10, runs[1].PagesTotal)
	assert.Equal(t, 4, runs[1].CommitsApplied)
	assert.Equal(t, []string{"broken-page", "other-page"}, runs[1].FailedSlugs)

	limited, err := store.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second, limited[0].ID)
}

// ==================== Persistence Tests ====================

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.UpsertPage(ctx, domain.Page{Slug: "persistent"}))
	require.NoError(t, store.Record(ctx, "persistent", 1, "h1"))
	require.NoError(t, store.Close())

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	last, err := reopened.LastCommitted(ctx, "persistent")
	require.NoError(t, err)
	assert.Equal(t, 1, last)
}
