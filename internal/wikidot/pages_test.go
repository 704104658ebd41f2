package wikidot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingFragmentPaged = `<div class="list-pages-box">
<p>scp-002<br/>scp-001<br/>main<br/>fragment:intro</p>
<div class="pager">
<span class="pager-no">page 2 of 4</span>
<span class="target"><a href="/system:list-all-pages/p/1">1</a></span>
<span class="current">2</span>
<span class="target"><a href="/system:list-all-pages/p/3">3</a></span>
<span class="target"><a href="/system:list-all-pages/p/4">4</a></span>
</div>
</div>`

const listingFragmentLast = `<div class="list-pages-box">
<p>last-page</p>
<div class="pager">
<span class="pager-no">page 4 of 4</span>
<span class="target"><a href="/system:list-all-pages/p/3">3</a></span>
<span class="current">4</span>
</div>
</div>`

const listingFragmentSingle = `<div class="list-pages-box">
<p>only-page<br/>another-page</p>
</div>`

func TestParsePageListing(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		slugs     []string
		total     int
		hasNext   bool
		expectErr bool
	}{
		{
			name:    "middle listing page",
			body:    listingFragmentPaged,
			slugs:   []string{"scp-002", "scp-001", "main", "fragment:intro"},
			total:   4,
			hasNext: true,
		},
		{
			name:    "final listing page",
			body:    listingFragmentLast,
			slugs:   []string{"last-page"},
			total:   4,
			hasNext: false,
		},
		{
			name:    "single page listing without pager",
			body:    listingFragmentSingle,
			slugs:   []string{"only-page", "another-page"},
			hasNext: false,
		},
		{
			name:      "fragment without content block",
			body:      `<div class="error"></div>`,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing, err := parsePageListing(tt.body)
			if tt.expectErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.slugs, listing.Slugs)
			assert.Equal(t, tt.total, listing.TotalIndexes)
			assert.Equal(t, tt.hasNext, listing.HasNext)
		})
	}
}

func TestListPagesIndex(t *testing.T) {
	site := newFakeSite(t)
	site.listings[1] = listingFragmentSingle

	client := site.client(t)

	listing, err := client.ListPagesIndex(context.Background(), 1, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"only-page", "another-page"}, listing.Slugs)
	assert.Equal(t, 1, listing.Index)
	assert.False(t, listing.HasNext)

	// The listing module must receive the pagination and body params.
	params := site.lastParams[listPagesModule]
	require.NotNil(t, params)
	assert.Equal(t, "%%page_unix_name%%", params.Get("module_body"))
	assert.Equal(t, "1", params.Get("p"))
	assert.Equal(t, ".", params.Get("category"))
}

func TestListPagesIndex_Filters(t *testing.T) {
	site := newFakeSite(t)
	site.listings[1] = listingFragmentSingle

	client := site.client(t)

	_, err := client.ListPagesIndex(context.Background(), 1, ListOptions{
		Category:  "fragment",
		Tags:      "scp",
		CreatedBy: "drclef",
	})
	require.NoError(t, err)

	params := site.lastParams[listPagesModule]
	require.NotNil(t, params)
	assert.Equal(t, "fragment", params.Get("category"))
	assert.Equal(t, "scp", params.Get("tags"))
	assert.Equal(t, "drclef", params.Get("created_by"))
}
