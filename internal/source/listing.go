package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var ErrNoMore = errors.New("no more listing pages")

// Entry is one raw listing item before URL resolution and date parsing.
type Entry struct {
	Href      string
	Published string
}

// Extractor pulls raw entries out of a rendered listing page.
type Extractor interface {
	Extract(doc *goquery.Document) []Entry
}

// Pager yields the listing page by page. More returns ErrNoMore once the
// "load more" control is gone or could not be used.
type Pager interface {
	Open(ctx context.Context) (*goquery.Document, error)
	More(ctx context.Context) (*goquery.Document, error)
}

type Documenter interface {
	Document(ctx context.Context, url string) (*goquery.Document, error)
}

type SelectorExtractor struct {
	Item string
	Date string
}

func (e SelectorExtractor) Extract(doc *goquery.Document) []Entry {
	dates := make(map[*html.Node]struct{})
	doc.Find(e.Date).Each(func(_ int, date *goquery.Selection) {
		dates[date.Get(0)] = struct{}{}
	})

	var entries []Entry

	doc.Find(e.Item).Each(func(_ int, item *goquery.Selection) {
		href, _ := item.Attr("href")

		entry := Entry{Href: strings.TrimSpace(href)}
		if date := nextMatch(item.Get(0), dates); date != nil {
			entry.Published = strings.TrimSpace(goquery.NewDocumentFromNode(date).Text())
		}

		entries = append(entries, entry)
	})

	return entries
}

// nextMatch returns the first node of set at or after n in document order,
// descendants of n included.
func nextMatch(n *html.Node, set map[*html.Node]struct{}) *html.Node {
	for n != nil {
		if _, ok := set[n]; ok {
			return n
		}

		if n.FirstChild != nil {
			n = n.FirstChild
			continue
		}

		for n != nil && n.NextSibling == nil {
			n = n.Parent
		}
		if n != nil {
			n = n.NextSibling
		}
	}

	return nil
}

// HTTPPager walks a listing by fetching numbered pages while the current
// page still shows the "load more" control.
type HTTPPager struct {
	client       Documenter
	listURL      string
	pageURL      string
	moreSelector string
	wait         time.Duration
	delay        time.Duration

	page    int
	current *goquery.Document
}

func NewHTTPPager(client Documenter, listURL, pageURL, moreSelector string, wait, delay time.Duration) *HTTPPager {
	return &HTTPPager{
		client:       client,
		listURL:      listURL,
		pageURL:      pageURL,
		moreSelector: moreSelector,
		wait:         wait,
		delay:        delay,
	}
}

func (p *HTTPPager) Open(ctx context.Context) (*goquery.Document, error) {
	doc, err := p.client.Document(ctx, p.listURL)
	if err != nil {
		return nil, err
	}

	p.page = 1
	p.current = doc

	return doc, nil
}

func (p *HTTPPager) More(ctx context.Context) (*goquery.Document, error) {
	if p.current == nil || p.current.Find(p.moreSelector).Length() == 0 {
		return nil, ErrNoMore
	}

	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}

	waitCtx := ctx
	if p.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.wait)
		defer cancel()
	}

	doc, err := p.client.Document(waitCtx, fmt.Sprintf(p.pageURL, p.page+1))
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrNoMore, p.page+1, err)
	}

	p.page++
	p.current = doc

	return doc, nil
}
