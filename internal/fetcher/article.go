package fetcher

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/samber/lo"
	"golang.org/x/net/html"
)

// NoTitle is stored when an article has no usable title.
const NoTitle = "제목 없음"

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

type Article struct {
	Link  string
	Title string
	Codes []string
}

// ParseArticle reads the title and every distinct 6-digit token of the page text.
func ParseArticle(doc *goquery.Document, link string) Article {
	text := pageText(doc)
	title := strings.TrimSpace(doc.Find("title").First().Text())

	if title == "" && len(doc.Nodes) > 0 {
		if pageURL, err := url.Parse(link); err == nil {
			// readability клонирует документ, исходный doc не меняется
			if parsed, err := readability.FromDocument(doc.Nodes[0], pageURL); err == nil {
				title = strings.TrimSpace(parsed.Title)
			}
		}
	}

	if title == "" {
		title = NoTitle
	}

	return Article{
		Link:  link,
		Title: title,
		Codes: lo.Uniq(codePattern.FindAllString(text, -1)),
	}
}

// pageText joins every text node of the page with a space, so tokens in
// adjacent elements stay apart.
func pageText(doc *goquery.Document) string {
	var parts []string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			parts = append(parts, n.Data)
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	for _, n := range doc.Nodes {
		walk(n)
	}

	return strings.Join(parts, " ")
}
