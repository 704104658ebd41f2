package wikidot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// revisionLogFragment is a trimmed revision table as the remote renders
// it: newest first, one radio input per row carrying the revision id.
const revisionLogFragment = `<table class="page-history">
<tr><td>rev.</td><td></td><td>flags</td><td>actions</td><td>by</td><td>date</td><td>comments</td></tr>
<tr>
<td>2.</td>
<td><input type="radio" name="to" value="9003"/></td>
<td><span class="spantip" title="page name changed">R</span></td>
<td></td>
<td><span class="printuser"><a href="/user:1"><img src="a.png"/></a><a href="/user:drclef">DrClef</a></span></td>
<td><span class="odate time_1310000000 format_dm">11 Jul 2011</span></td>
<td>Parent page set to: "hub".</td>
</tr>
<tr>
<td>1.</td>
<td><input type="radio" name="to" value="9001"/></td>
<td></td>
<td></td>
<td><span class="printuser"><a href="/user:2"><img src="b.png"/></a><a href="/user:drbright">DrBright</a></span></td>
<td><span class="odate time_1300000000 format_dm">13 Mar 2011</span></td>
<td></td>
</tr>
</table>`

func TestParseRevisionLog(t *testing.T) {
	revs, err := parseRevisionLog(revisionLogFragment)
	require.NoError(t, err)
	require.Len(t, revs, 2)

	// The raw parse keeps the remote's newest-first order.
	assert.Equal(t, "9003", revs[0].RemoteID)
	assert.Equal(t, "R", revs[0].Flag)
	assert.Equal(t, "DrClef", revs[0].Author)
	assert.Equal(t, `Parent page set to: "hub".`, revs[0].Comment)
	assert.Equal(t, time.Unix(1310000000, 0).UTC(), revs[0].Timestamp)

	assert.Equal(t, "9001", revs[1].RemoteID)
	assert.Empty(t, revs[1].Flag)
	assert.Equal(t, "DrBright", revs[1].Author)
	assert.Empty(t, revs[1].Comment)
}

func TestParseRevisionLog_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no table", `<div>nothing here</div>`},
		{"row without timestamp", `<table><tr><td><input value="1"/></td><td>x</td></tr></table>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRevisionLog(tt.body)
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestListRevisions_OldestFirstWithSeq(t *testing.T) {
	site := newFakeSite(t)
	site.revisionLogs["777"] = revisionLogFragment

	client := site.client(t)

	revs, err := client.ListRevisions(context.Background(), 777, 0)
	require.NoError(t, err)
	require.Len(t, revs, 2)

	assert.Equal(t, 1, revs[0].Seq)
	assert.Equal(t, "9001", revs[0].RemoteID)
	assert.Equal(t, 2, revs[1].Seq)
	assert.Equal(t, "9003", revs[1].RemoteID)
	assert.True(t, revs[0].Timestamp.Before(revs[1].Timestamp))
}

func TestPageID(t *testing.T) {
	site := newFakeSite(t)
	site.pages["scp-173"] = `<html><script>
var WIKIREQUEST = {};
WIKIREQUEST.info = {};
WIKIREQUEST.info.pageId = 173173;
</script></html>`

	client := site.client(t)

	id, err := client.PageID(context.Background(), "scp-173")
	require.NoError(t, err)
	assert.Equal(t, int64(173173), id)
}

func TestPageID_NotFound(t *testing.T) {
	site := newFakeSite(t)
	client := site.client(t)

	_, err := client.PageID(context.Background(), "deleted-page")
	assert.ErrorIs(t, err, ErrPageNotFound)
}

func TestPageID_NoIDInPage(t *testing.T) {
	site := newFakeSite(t)
	site.pages["odd-page"] = `<html><body>no bootstrap script</body></html>`

	client := site.client(t)

	_, err := client.PageID(context.Background(), "odd-page")
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestRevisionSource(t *testing.T) {
	site := newFakeSite(t)
	site.sources["9001"] = `<div class="page-source">
[[module Rate]]<br/><br/>**Item #:** SCP-173</div>`

	client := site.client(t)

	source, err := client.RevisionSource(context.Background(), "9001")
	require.NoError(t, err)
	assert.Equal(t, "[[module Rate]]\n\n**Item #:** SCP-173", source)
}

func TestRevisionVersion(t *testing.T) {
	site := newFakeSite(t)
	site.versions["9003"] = fakeVersion{title: "The Sculpture", slug: "scp-173"}

	client := site.client(t)

	info, err := client.RevisionVersion(context.Background(), "9003")
	require.NoError(t, err)
	assert.Equal(t, "The Sculpture", info.Title)
	assert.Equal(t, "scp-173", info.SlugAtTime)
}

func TestPageTags(t *testing.T) {
	site := newFakeSite(t)
	site.pages["scp-173"] = `<html><body>
<div class="page-tags"><span><a href="/system:page-tags/tag/euclid">euclid</a>
<a href="/system:page-tags/tag/scp">scp</a></span></div>
</body></html>`

	client := site.client(t)

	tags, err := client.PageTags(context.Background(), "scp-173")
	require.NoError(t, err)
	assert.Equal(t, []string{"euclid", "scp"}, tags)
}
