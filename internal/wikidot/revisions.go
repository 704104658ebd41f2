package wikidot

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	revisionListModule    = "history/PageRevisionListModule"
	revisionSourceModule  = "history/PageSourceModule"
	revisionVersionModule = "history/PageVersionModule"
)

// RevisionMeta is one row of a page's revision log, as reported by the
// remote. Seq is assigned after the full log is retrieved and reversed
// to oldest-first order.
type RevisionMeta struct {
	// RemoteID is the site-wide revision identifier.
	RemoteID string
	// Seq is the page-local revision number, 1..k oldest-first.
	Seq int
	// Flag is the remote's one-letter change flag (N new, S source edit,
	// R rename, T title, A file action, M meta), empty when absent.
	Flag string
	// Timestamp is the original edit time.
	Timestamp time.Time
	// Author is the editor's display name.
	Author string
	// Comment is the edit comment.
	Comment string
}

// VersionInfo carries the per-revision fields only the version module
// exposes: the display title and the slug at the time of the revision.
type VersionInfo struct {
	Title      string
	SlugAtTime string
}

// pageIDPattern locates the internal page id in the page's bootstrap
// script. Loading the page is the only way the engine exposes it.
var pageIDPattern = regexp.MustCompile(`WIKIREQUEST\.info\.pageId\s*=\s*(\d+)`)

// PageID scrapes the internal numeric page id for a slug. Returns
// ErrPageNotFound when the remote no longer serves the page.
func (c *Client) PageID(ctx context.Context, slug string) (int64, error) {
	body, err := c.Get(ctx, "/"+slug+"/noredirect/true")
	if err != nil {
		if IsNotFound(err) {
			return 0, fmt.Errorf("page %s: %w", slug, ErrPageNotFound)
		}
		return 0, err
	}

	m := pageIDPattern.FindStringSubmatch(body)
	if m == nil {
		return 0, fmt.Errorf("%w: no page id in page %s", ErrMalformedPayload, slug)
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: page id %q: %v", ErrMalformedPayload, m[1], err)
	}
	return id, nil
}

// ListRevisions fetches the complete revision log for a page, oldest
// first with Seq assigned 1..k. The remote returns newest-first; the
// log is reversed only after full retrieval so a truncated response
// can never masquerade as a complete one.
func (c *Client) ListRevisions(ctx context.Context, pageID int64, limit int) ([]RevisionMeta, error) {
	perPage := "10000"
	if limit > 0 {
		perPage = strconv.Itoa(limit)
	}
	var revs []RevisionMeta
	err := c.callModule(ctx, revisionListModule, map[string]string{
		"page_id": strconv.FormatInt(pageID, 10),
		"page":    "1",
		"perpage": perPage,
		"options": `{"all":true}`,
	}, "", func(body, _ string) error {
		parsed, err := parseRevisionLog(body)
		if err != nil {
			return err
		}
		revs = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reverse to oldest-first and number the sequence.
	for i, j := 0, len(revs)-1; i < j; i, j = i+1, j-1 {
		revs[i], revs[j] = revs[j], revs[i]
	}
	for i := range revs {
		revs[i].Seq = i + 1
	}
	return revs, nil
}

// parseRevisionLog extracts revision rows from the log table fragment.
func parseRevisionLog(body string) ([]RevisionMeta, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: revision log: %v", ErrMalformedPayload, err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: revision log has no table", ErrMalformedPayload)
	}

	var revs []RevisionMeta
	var rowErr error
	table.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		// The revision id lives in the row's radio input; header and
		// filler rows have none and are skipped.
		remoteID, ok := tr.Find("input").First().Attr("value")
		if !ok || remoteID == "" {
			return true
		}

		rev := RevisionMeta{RemoteID: remoteID}
		rev.Flag = strings.TrimSpace(tr.Find("span.spantip").First().Text())

		ts, err := parseRowTimestamp(tr)
		if err != nil {
			rowErr = fmt.Errorf("revision %s: %w", remoteID, err)
			return false
		}
		rev.Timestamp = ts

		// The author is the last anchor under the printuser span; the
		// first one is the avatar link.
		user := tr.Find("span.printuser a").Last().Text()
		rev.Author = strings.TrimSpace(user)
		if rev.Author == "" {
			rev.Author = strings.TrimSpace(tr.Find("span.printuser").First().Text())
		}

		rev.Comment = strings.TrimSpace(tr.Find("td").Last().Text())
		revs = append(revs, rev)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return revs, nil
}

// parseRowTimestamp reads the unix time encoded as a CSS class on the
// row's odate span ("time_1616161616").
func parseRowTimestamp(tr *goquery.Selection) (time.Time, error) {
	classes, ok := tr.Find("span.odate").First().Attr("class")
	if !ok {
		return time.Time{}, fmt.Errorf("%w: no odate span", ErrMalformedPayload)
	}
	for _, cls := range strings.Fields(classes) {
		if rest, found := strings.CutPrefix(cls, "time_"); found {
			unix, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				return time.Time{}, fmt.Errorf("%w: odate class %q: %v", ErrMalformedPayload, cls, err)
			}
			return time.Unix(unix, 0).UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: odate span carries no time_ class", ErrMalformedPayload)
}

// RevisionSource fetches the full source snapshot for a revision.
func (c *Client) RevisionSource(ctx context.Context, remoteID string) (string, error) {
	var source string
	err := c.callModule(ctx, revisionSourceModule, map[string]string{
		"revision_id": remoteID,
	}, "", func(body, _ string) error {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(withExplicitBreaks(body)))
		if err != nil {
			return fmt.Errorf("%w: revision source: %v", ErrMalformedPayload, err)
		}
		div := doc.Find("div").First()
		if div.Length() == 0 {
			return fmt.Errorf("%w: revision source has no content div", ErrMalformedPayload)
		}
		// The source arrives HTML-entity encoded with <br/> line
		// breaks; the node text already has entities decoded.
		source = strings.TrimLeft(div.Text(), " \r\n")
		return nil
	})
	return source, err
}

// RevisionVersion fetches the rendered version of a revision to recover
// the display title and the slug at the time, which the source module
// does not expose.
func (c *Client) RevisionVersion(ctx context.Context, remoteID string) (*VersionInfo, error) {
	var info *VersionInfo
	err := c.callModule(ctx, revisionVersionModule, map[string]string{
		"revision_id": remoteID,
	}, "", func(body, title string) error {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
		if err != nil {
			return fmt.Errorf("%w: revision version: %v", ErrMalformedPayload, err)
		}

		parsed := &VersionInfo{Title: strings.TrimSpace(title)}
		doc.Find("#page-version-info tr").Each(func(_ int, tr *goquery.Selection) {
			tds := tr.Find("td")
			if tds.Length() < 2 {
				return
			}
			if strings.TrimSpace(tds.Eq(0).Text()) == "Page name:" {
				parsed.SlugAtTime = strings.TrimSpace(tds.Eq(1).Text())
			}
		})
		if parsed.SlugAtTime == "" {
			return fmt.Errorf("%w: version info has no page name", ErrMalformedPayload)
		}
		info = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// PageTags scrapes the current tag set from the rendered page. Tags are
// not part of revision history; this is the only place they exist.
func (c *Client) PageTags(ctx context.Context, slug string) ([]string, error) {
	body, err := c.Get(ctx, "/"+slug+"/noredirect/true")
	if err != nil {
		if IsNotFound(err) {
			return nil, fmt.Errorf("page %s: %w", slug, ErrPageNotFound)
		}
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: page tags: %v", ErrMalformedPayload, err)
	}

	var tags []string
	doc.Find(".page-tags span a").Each(func(_ int, a *goquery.Selection) {
		if tag := strings.TrimSpace(a.Text()); tag != "" {
			tags = append(tags, tag)
		}
	})
	return tags, nil
}

// withExplicitBreaks turns <br/> separators into newlines before
// parsing, preserving the line structure goquery would otherwise drop.
func withExplicitBreaks(body string) string {
	body = strings.ReplaceAll(body, "<br/>", "\n")
	return strings.ReplaceAll(body, "<br />", "\n")
}
