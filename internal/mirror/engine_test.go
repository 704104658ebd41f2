package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirrorkit/wikidot-mirror/internal/checkpoint"
	"github.com/mirrorkit/wikidot-mirror/internal/wikidot"
)

// fakeRev is one canned revision on the fake site, oldest first. A rev
// with gone set still appears in the revision log but its source and
// version modules answer no_revision, like a page deleted between the
// listing and the snapshot fetch.
type fakeRev struct {
	id      string
	unix    int64
	author  string
	comment string
	flag    string
	source  string
	slugAt  string
	gone    bool
}

// fakePage is one canned page on the fake site.
type fakePage struct {
	id    int64
	title string
	tags  []string
	revs  []fakeRev
}

// fakeWiki emulates the whole remote protocol surface the engine
// touches: page listing, page scrapes, revision log, source and
// version modules.
type fakeWiki struct {
	server *httptest.Server

	mu    sync.Mutex
	pages map[string]*fakePage
}

func newFakeWiki(t *testing.T) *fakeWiki {
	t.Helper()
	w := &fakeWiki{pages: make(map[string]*fakePage)}
	w.server = httptest.NewServer(http.HandlerFunc(w.handle))
	t.Cleanup(w.server.Close)
	return w
}

func (w *fakeWiki) removePage(slug string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pages, slug)
}

func (w *fakeWiki) handle(rw http.ResponseWriter, r *http.Request) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if r.Method == http.MethodGet {
		slug := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), "/noredirect/true")
		page, ok := w.pages[slug]
		if !ok {
			http.NotFound(rw, r)
			return
		}
		var tags strings.Builder
		for _, tag := range page.tags {
			fmt.Fprintf(&tags, `<a href="/tag/%s">%s</a> `, tag, tag)
		}
		fmt.Fprintf(rw, `<html><script>WIKIREQUEST.info.pageId = %d;</script>
<div class="page-tags"><span>%s</span></div></html>`, page.id, tags.String())
		return
	}

	r.ParseForm()
	envelope := func(status, body, title string) {
		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(map[string]string{"status": status, "body": body, "title": title})
	}

	switch r.PostForm.Get("moduleName") {
	case "list/ListPagesModule":
		var slugs []string
		for slug := range w.pages {
			slugs = append(slugs, slug)
		}
		envelope("ok", fmt.Sprintf("<div><p>%s</p></div>", strings.Join(slugs, "<br/>")), "")

	case "history/PageRevisionListModule":
		for _, page := range w.pages {
			if fmt.Sprintf("%d", page.id) != r.PostForm.Get("page_id") {
				continue
			}
			var rows strings.Builder
			rows.WriteString("<table>")
			for i := len(page.revs) - 1; i >= 0; i-- { // newest first
				rev := page.revs[i]
				fmt.Fprintf(&rows, `<tr><td><input value="%s"/></td>
<td><span class="spantip">%s</span></td>
<td><span class="printuser"><a href="/u">%s</a></span></td>
<td><span class="odate time_%d">date</span></td>
<td>%s</td></tr>`, rev.id, rev.flag, rev.author, rev.unix, rev.comment)
			}
			rows.WriteString("</table>")
			envelope("ok", rows.String(), "")
			return
		}
		envelope("no_page", "", "page does not exist")

	case "history/PageSourceModule":
		for _, page := range w.pages {
			for _, rev := range page.revs {
				if rev.id == r.PostForm.Get("revision_id") && !rev.gone {
					envelope("ok", "<div>"+rev.source+"</div>", "")
					return
				}
			}
		}
		envelope("no_revision", "", "revision does not exist")

	case "history/PageVersionModule":
		for _, page := range w.pages {
			for _, rev := range page.revs {
				if rev.id == r.PostForm.Get("revision_id") && !rev.gone {
					body := fmt.Sprintf(`<div id="page-version-info"><table>
<tr><td>Page name:</td><td>%s</td></tr></table></div>`, rev.slugAt)
					envelope("ok", body, page.title)
					return
				}
			}
		}
		envelope("no_revision", "", "revision does not exist")

	default:
		envelope("no_module", "", "unknown module")
	}
}

func setupEngine(t *testing.T, wiki *fakeWiki) (*Engine, *checkpoint.Store, string) {
	t.Helper()
	dir := t.TempDir()

	client, err := wikidot.NewClient(wikidot.ClientConfig{
		Site:        wiki.server.URL,
		RateLimit:   wikidot.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 100},
		MaxAttempts: 2,
		HTTPClient:  wiki.server.Client(),
	})
	require.NoError(t, err)

	store, err := checkpoint.NewStore(filepath.Join(dir, checkpoint.DirName))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })

	writer, err := NewWriter(dir, store, client.Site(), client.Hostname(), nil)
	require.NoError(t, err)

	engine := NewEngine(client, store, writer, Options{Workers: 2, Lookahead: 4})
	return engine, store, dir
}

// commitMessages returns the repository's commit messages, oldest first.
func commitMessages(t *testing.T, dir string) []string {
	t.Helper()
	repo, err := git.PlainOpen(dir)
	require.NoError(t, err)
	ref, err := repo.Head()
	require.NoError(t, err)

	var messages []string
	commit, err := repo.CommitObject(ref.Hash())
	require.NoError(t, err)
	for commit != nil {
		messages = append([]string{commit.Message}, messages...)
		parent, err := commit.Parent(0)
		if err != nil {
			break
		}
		commit = parent
	}
	return messages
}

func twoPageWiki(t *testing.T) *fakeWiki {
	t.Helper()
	wiki := newFakeWiki(t)
	wiki.pages["alpha"] = &fakePage{
		id:    1,
		title: "Alpha",
		tags:  []string{"hub"},
		revs: []fakeRev{
			{id: "101", unix: 1000, author: "Ann", flag: "N", source: "alpha v1", slugAt: "alpha"},
			{id: "102", unix: 3000, author: "Ann", comment: "expand", source: "alpha v2", slugAt: "alpha"},
		},
	}
	wiki.pages["beta"] = &fakePage{
		id:    2,
		title: "Beta",
		revs: []fakeRev{
			{id: "201", unix: 2000, author: "Bob", flag: "N", source: "beta v1", slugAt: "beta"},
			{id: "202", unix: 4000, author: "Bob", source: "beta v2", slugAt: "beta"},
		},
	}
	return wiki
}

// ==================== Engine Tests ====================

func TestEngine_ReplaysSiteInGlobalOrder(t *testing.T) {
	wiki := twoPageWiki(t)
	engine, store, dir := setupEngine(t, wiki)

	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.PagesTotal)
	assert.Equal(t, 4, report.CommitsApplied)
	assert.Empty(t, report.Failed)

	// Commits must follow original edit time across pages, not
	// page-by-page order.
	assert.Equal(t, []string{
		"Created alpha (no message)",
		"Created beta (no message)",
		"alpha: expand",
		"Updated beta (no message)",
	}, commitMessages(t, dir))

	last, err := store.LastCommitted(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, last)
}

func TestEngine_RerunIsIdempotent(t *testing.T) {
	wiki := twoPageWiki(t)
	engine, _, dir := setupEngine(t, wiki)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)
	before := commitMessages(t, dir)

	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.CommitsApplied, "an up-to-date mirror must produce no commits")
	assert.Equal(t, before, commitMessages(t, dir))
}

func TestEngine_NewRevisionsOnlyOnRerun(t *testing.T) {
	wiki := twoPageWiki(t)
	engine, _, dir := setupEngine(t, wiki)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	wiki.mu.Lock()
	wiki.pages["alpha"].revs = append(wiki.pages["alpha"].revs,
		fakeRev{id: "103", unix: 5000, author: "Ann", comment: "polish", source: "alpha v3", slugAt: "alpha"})
	wiki.mu.Unlock()

	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.CommitsApplied)

	messages := commitMessages(t, dir)
	assert.Equal(t, "alpha: polish", messages[len(messages)-1])
}

func TestEngine_DeletedPageGetsTerminalCommit(t *testing.T) {
	wiki := twoPageWiki(t)
	engine, store, dir := setupEngine(t, wiki)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	wiki.removePage("beta")

	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.CommitsApplied)

	messages := commitMessages(t, dir)
	assert.Equal(t, "beta: page deleted", messages[len(messages)-1])

	page, err := store.GetPage(context.Background(), "beta")
	require.NoError(t, err)
	assert.True(t, page.Deleted)

	// A third run must not produce another terminal commit.
	report, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.CommitsApplied)
}

func TestEngine_VanishedRevisionSourceRecordsDeletion(t *testing.T) {
	wiki := twoPageWiki(t)
	engine, store, dir := setupEngine(t, wiki)

	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	// A new revision appears in alpha's log, but its snapshot is gone by
	// the time the run fetches it. That is a deletion, not a failure.
	wiki.mu.Lock()
	wiki.pages["alpha"].revs = append(wiki.pages["alpha"].revs,
		fakeRev{id: "103", unix: 5000, author: "Ann", slugAt: "alpha", gone: true})
	wiki.mu.Unlock()

	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Failed)
	assert.Equal(t, 1, report.CommitsApplied)

	messages := commitMessages(t, dir)
	assert.Equal(t, "alpha: page deleted", messages[len(messages)-1])

	page, err := store.GetPage(context.Background(), "alpha")
	require.NoError(t, err)
	assert.True(t, page.Deleted)

	// Committed sequence stays gapless: the marker sits right after the
	// last applied revision.
	last, err := store.LastCommitted(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, 3, last)

	// No second terminal commit on the next run.
	report, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.CommitsApplied)
}

func TestEngine_VanishedFirstRevisionIsSkippedQuietly(t *testing.T) {
	wiki := twoPageWiki(t)
	wiki.pages["ghost"] = &fakePage{
		id:   3,
		revs: []fakeRev{{id: "301", unix: 1500, author: "Eve", flag: "N", slugAt: "ghost", gone: true}},
	}
	engine, store, dir := setupEngine(t, wiki)

	report, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Failed)
	assert.Equal(t, 4, report.CommitsApplied)

	// Nothing was ever committed for the ghost page: no file, no
	// terminal marker, no checkpoint.
	for _, msg := range commitMessages(t, dir) {
		assert.NotContains(t, msg, "ghost")
	}
	last, err := store.LastCommitted(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestEngine_SkipAndCapOptions(t *testing.T) {
	engine := &Engine{opts: Options{SkipPages: []string{"skip-me"}, MaxPages: 2}}

	kept := engine.restrict([]string{"a", "skip-me", "b", "c"})
	assert.Equal(t, []string{"a", "b"}, kept)
}

func TestEngine_RunPage(t *testing.T) {
	wiki := twoPageWiki(t)
	engine, store, dir := setupEngine(t, wiki)

	report, err := engine.RunPage(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, 2, report.CommitsApplied)

	assert.Equal(t, []string{
		"Created alpha (no message)",
		"alpha: expand",
	}, commitMessages(t, dir))

	// The untouched page has no checkpoint state.
	last, err := store.LastCommitted(context.Background(), "beta")
	require.NoError(t, err)
	assert.Zero(t, last)
}
