package wikidot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// listPagesModule renders a browsable page listing. module_body selects
// which per-page fields the fragment carries.
const listPagesModule = "list/ListPagesModule"

// ListOptions narrows a page listing.
type ListOptions struct {
	// Category filters by category; "." means all.
	Category string
	// Tags filters by tag expression.
	Tags string
	// CreatedBy filters by page creator.
	CreatedBy string
	// PerPage is the listing page size.
	PerPage int
}

// PageListing is one page of the site's page listing.
type PageListing struct {
	// Slugs are the page unix names on this listing page, in listing
	// order. May contain duplicates across listing pages when the site
	// mutates mid-crawl; callers de-duplicate.
	Slugs []string

	// Index is the listing page index this result represents.
	Index int

	// TotalIndexes is the pager's reported page count. Only a hint: the
	// count can change between two calls, so enumeration terminates on
	// content (empty page / no next link), never on this number.
	TotalIndexes int

	// HasNext reports whether the pager links a following index.
	HasNext bool
}

// ListPagesIndex fetches one index of the paginated page listing.
func (c *Client) ListPagesIndex(ctx context.Context, index int, opts ListOptions) (*PageListing, error) {
	if index < 1 {
		index = 1
	}
	category := opts.Category
	if category == "" {
		category = "."
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 250
	}

	params := map[string]string{
		"module_body": "%%page_unix_name%%",
		"separate":    "false",
		"perPage":     strconv.Itoa(perPage),
		"p":           strconv.Itoa(index),
		"category":    category,
		"order":       "dateCreatedDesc",
	}
	if opts.Tags != "" {
		params["tags"] = opts.Tags
	}
	if opts.CreatedBy != "" {
		params["created_by"] = opts.CreatedBy
	}

	// The trailing /p/N keys the module's pagination.
	var listing *PageListing
	err := c.callModule(ctx, listPagesModule, params, fmt.Sprintf("/p/%d", index), func(body, _ string) error {
		parsed, err := parsePageListing(body)
		if err != nil {
			return err
		}
		listing = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	listing.Index = index
	return listing, nil
}

// parsePageListing extracts slugs and pager state from the listing
// fragment. Slugs arrive as a single <p> with <br/> separators.
func parsePageListing(body string) (*PageListing, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(withExplicitBreaks(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: page listing: %v", ErrMalformedPayload, err)
	}

	listing := &PageListing{}
	block := doc.Find("div p").First()
	if block.Length() == 0 {
		return nil, fmt.Errorf("%w: page listing has no content block", ErrMalformedPayload)
	}
	for _, line := range strings.Split(block.Text(), "\n") {
		slug := strings.TrimSpace(line)
		if slug != "" {
			listing.Slugs = append(listing.Slugs, slug)
		}
	}

	// Pager: "page N of M" plus target spans linking other indexes. A
	// missing pager means the whole listing fit on one page.
	pagerNo := strings.TrimSpace(doc.Find("span.pager-no").First().Text())
	if pagerNo != "" {
		var cur, total int
		if _, err := fmt.Sscanf(pagerNo, "page %d of %d", &cur, &total); err == nil {
			listing.TotalIndexes = total
		}
	}

	current := 0
	if curText := strings.TrimSpace(doc.Find("span.current").First().Text()); curText != "" {
		if n, err := strconv.Atoi(curText); err == nil {
			current = n
		}
	}

	doc.Find("span.target a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		parts := strings.Split(strings.TrimRight(href, "/"), "/")
		if len(parts) == 0 {
			return
		}
		if n, err := strconv.Atoi(parts[len(parts)-1]); err == nil && current > 0 && n == current+1 {
			listing.HasNext = true
		}
	})

	return listing, nil
}
