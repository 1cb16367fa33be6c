package source_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stocknews/internal/source"
)

var kst = time.FixedZone("KST", 9*60*60)

var extractor = source.SelectorExtractor{
	Item: "div.grid-nm.id_thum_stock_news ul.targetAdd li a",
	Date: "span.data_info span",
}

type item struct {
	href string
	date string
}

func listing(t *testing.T, more bool, items ...item) *goquery.Document {
	t.Helper()

	var b strings.Builder
	b.WriteString(`<html><body><div class="grid-nm id_thum_stock_news"><ul class="targetAdd">`)
	for _, it := range items {
		fmt.Fprintf(&b, `<li><a href="%s"><p>title</p><span class="data_info"><span>%s</span></span></a></li>`, it.href, it.date)
	}
	b.WriteString(`</ul></div>`)
	if more {
		b.WriteString(`<button class="btn_page_more_con">더보기</button>`)
	}
	b.WriteString(`</body></html>`)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(b.String()))
	require.NoError(t, err)

	return doc
}

type fakePager struct {
	pages  []*goquery.Document
	served int
	more   int
}

func (p *fakePager) Open(context.Context) (*goquery.Document, error) {
	p.served = 1
	return p.pages[0], nil
}

func (p *fakePager) More(context.Context) (*goquery.Document, error) {
	p.more++
	if p.served >= len(p.pages) {
		return nil, source.ErrNoMore
	}

	doc := p.pages[p.served]
	p.served++

	return doc, nil
}

func cutoff(day int) time.Time {
	return time.Date(2024, 1, day, 0, 0, 0, 0, kst)
}

func links(res source.Result) []string {
	out := make([]string, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		out = append(out, c.Link)
	}

	return out
}

func TestCrawlStopsAtCutoff(t *testing.T) {
	pager := &fakePager{pages: []*goquery.Document{listing(t, true,
		item{"/News/Read?newsId=4", "2024-01-04 10:00"},
		item{"/News/Read?newsId=3", "2024-01-03 09:00"},
		item{"/News/Read?newsId=2", "2024-01-02 23:00"},
		item{"/News/Read?newsId=1", "2024-01-01 08:00"},
	)}}
	crawler := source.NewCrawler(pager, extractor, "https://m.edaily.co.kr", kst)

	res, err := crawler.Crawl(context.Background(), cutoff(3), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://m.edaily.co.kr/News/Read?newsId=4",
		"https://m.edaily.co.kr/News/Read?newsId=3",
	}, links(res))
	assert.True(t, res.Latest.Equal(time.Date(2024, 1, 3, 9, 0, 0, 0, kst)), "latest accepted date, got %s", res.Latest)
	assert.Zero(t, pager.more, "a too-old entry ends the crawl without paging")
}

func TestCrawlSeenLinkDoesNotTerminate(t *testing.T) {
	pager := &fakePager{pages: []*goquery.Document{listing(t, false,
		item{"https://m.edaily.co.kr/News/Read?newsId=9", "2024-01-04 11:00"},
		item{"https://m.edaily.co.kr/News/Read?newsId=8", "2024-01-04 10:00"},
	)}}
	crawler := source.NewCrawler(pager, extractor, "https://m.edaily.co.kr", kst)

	seen := map[string]struct{}{"https://m.edaily.co.kr/News/Read?newsId=9": {}}

	res, err := crawler.Crawl(context.Background(), cutoff(3), seen)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://m.edaily.co.kr/News/Read?newsId=8"}, links(res))
	assert.Len(t, seen, 1, "caller's dedup set is not written back")
}

func TestCrawlSeenOldLinkIsSkippedNotTerminal(t *testing.T) {
	pager := &fakePager{pages: []*goquery.Document{listing(t, false,
		item{"/old", "2023-12-01 10:00"},
		item{"/new", "2024-01-04 10:00"},
	)}}
	crawler := source.NewCrawler(pager, extractor, "https://m.edaily.co.kr", kst)

	res, err := crawler.Crawl(context.Background(), cutoff(3), map[string]struct{}{"https://m.edaily.co.kr/old": {}})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://m.edaily.co.kr/new"}, links(res))
}

func TestCrawlPagesUntilNothingNew(t *testing.T) {
	pager := &fakePager{pages: []*goquery.Document{
		listing(t, true, item{"/a", "2024-01-04 10:00"}, item{"/b", "2024-01-04 09:00"}),
		// rendered listing keeps earlier items and appends the next batch
		listing(t, true, item{"/a", "2024-01-04 10:00"}, item{"/b", "2024-01-04 09:00"}, item{"/c", "2024-01-03 22:00"}),
		listing(t, true, item{"/a", "2024-01-04 10:00"}, item{"/b", "2024-01-04 09:00"}, item{"/c", "2024-01-03 22:00"}),
		listing(t, true, item{"/d", "2024-01-03 21:00"}),
	}}
	crawler := source.NewCrawler(pager, extractor, "https://m.edaily.co.kr/", kst)

	res, err := crawler.Crawl(context.Background(), cutoff(3), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://m.edaily.co.kr/a",
		"https://m.edaily.co.kr/b",
		"https://m.edaily.co.kr/c",
	}, links(res))
	assert.Equal(t, 2, pager.more, "a pass with nothing new ends the crawl")
}

func TestCrawlStopsWhenListingCannotExtend(t *testing.T) {
	pager := &fakePager{pages: []*goquery.Document{
		listing(t, true, item{"/a", "2024-01-04 10:00"}),
	}}
	crawler := source.NewCrawler(pager, extractor, "https://m.edaily.co.kr", kst)

	res, err := crawler.Crawl(context.Background(), cutoff(3), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://m.edaily.co.kr/a"}, links(res))
	assert.Equal(t, 1, pager.more)
}

func TestCrawlSkipsMalformedEntries(t *testing.T) {
	pager := &fakePager{pages: []*goquery.Document{listing(t, false,
		item{"", "2024-01-04 10:00"},
		item{"/bad-date", "어제 오후"},
		item{"/good", "2024-01-04 08:00"},
	)}}
	crawler := source.NewCrawler(pager, extractor, "https://m.edaily.co.kr", kst)

	res, err := crawler.Crawl(context.Background(), cutoff(3), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://m.edaily.co.kr/good"}, links(res))
}

func TestCrawlEmptyListing(t *testing.T) {
	pager := &fakePager{pages: []*goquery.Document{listing(t, true)}}
	crawler := source.NewCrawler(pager, extractor, "https://m.edaily.co.kr", kst)

	res, err := crawler.Crawl(context.Background(), cutoff(3), nil)
	require.NoError(t, err)

	assert.Empty(t, res.Candidates)
	assert.True(t, res.Latest.IsZero())
	assert.Zero(t, pager.more)
}

type failingPager struct{}

func (failingPager) Open(context.Context) (*goquery.Document, error) {
	return nil, errors.New("connection refused")
}

func (failingPager) More(context.Context) (*goquery.Document, error) {
	return nil, source.ErrNoMore
}

func TestCrawlOpenFailure(t *testing.T) {
	crawler := source.NewCrawler(failingPager{}, extractor, "https://m.edaily.co.kr", kst)

	_, err := crawler.Crawl(context.Background(), cutoff(3), nil)
	require.Error(t, err)
}

func TestSelectorExtractorFindsDateInAncestor(t *testing.T) {
	html := `<ul class="list"><li><a href="/x">title</a><span class="data_info"><span>2024-01-04 10:00</span></span></li></ul>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	entries := source.SelectorExtractor{Item: "ul.list li a", Date: "span.data_info span"}.Extract(doc)

	assert.Equal(t, []source.Entry{{Href: "/x", Published: "2024-01-04 10:00"}}, entries)
}

func TestSelectorExtractorTakesNextDateInDocumentOrder(t *testing.T) {
	html := `<ul class="list">
		<li><a href="/x">first</a></li><li><span class="data_info"><span>2024-01-04 10:00</span></span></li>
		<li><a href="/y">second</a></li><li><span class="data_info"><span>2024-01-03 09:00</span></span></li>
		<li><a href="/z">last</a></li>
	</ul>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	entries := source.SelectorExtractor{Item: "ul.list li a", Date: "span.data_info span"}.Extract(doc)

	assert.Equal(t, []source.Entry{
		{Href: "/x", Published: "2024-01-04 10:00"},
		{Href: "/y", Published: "2024-01-03 09:00"},
		{Href: "/z"},
	}, entries)
}
