package model

import (
	"slices"
	"strings"
	"time"
)

// Delimiter joins links and titles in the flattened record form.
const Delimiter = " | "

const CodeWidth = 6

type Market string

const (
	MarketKOSPI  Market = "코스피"
	MarketKOSDAQ Market = "코스닥"
	MarketKONEX  Market = "코넥스"
	MarketOther  Market = "기타"
)

func ParseMarket(raw string) Market {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return MarketOther
	}

	return Market(raw)
}

// YahooSymbol returns the ticker the chart consumer uses for price data.
func (m Market) YahooSymbol(code string) (string, bool) {
	switch m {
	case MarketKOSPI:
		return PadCode(code) + ".KS", true
	case MarketKOSDAQ:
		return PadCode(code) + ".KQ", true
	default:
		return "", false
	}
}

// PadCode trims and left-pads a stock code with zeros to CodeWidth.
func PadCode(raw string) string {
	code := strings.TrimSpace(raw)
	if len(code) >= CodeWidth {
		return code
	}

	return strings.Repeat("0", CodeWidth-len(code)) + code
}

type Company struct {
	Code       string
	Name       string
	Market     Market
	SectorName string
	SectorID   int64
}

type Candidate struct {
	Link      string
	Published time.Time // время публикации в источнике
}

// Day truncates Published to its calendar day in its own location.
func (c Candidate) Day() time.Time {
	return Day(c.Published)
}

func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

type Mention struct {
	ID          int64
	Date        time.Time
	CompanyName string
	StockCode   string
	Market      Market
	SectorName  string
	SectorID    int64
	Count       int
	Links       []string
	Titles      []string
}

func (m Mention) HasLink(link string) bool {
	return slices.Contains(m.Links, link)
}

func (m Mention) HasTitle(title string) bool {
	return slices.Contains(m.Titles, title)
}

func (m Mention) LinkList() string {
	return strings.Join(m.Links, Delimiter)
}

func (m Mention) TitleList() string {
	return strings.Join(m.Titles, Delimiter)
}

// Consistent reports whether count, links and titles agree in cardinality.
func (m Mention) Consistent() bool {
	return m.Count == len(m.Links) && len(m.Links) == len(m.Titles)
}

type MentionUpsert struct {
	Date    time.Time
	Company Company
	Link    string
	Title   string
}

type SeriesPoint struct {
	Date  time.Time
	Count int
}

type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Candidates int
	Articles   int
	Failed     int
	Stored     int
	Duplicates int
	Latest     time.Time // дата последней принятой новости, нулевая если ничего не принято
	Log        []string
	Err        error
}

func (r Report) OK() bool {
	return r.Err == nil
}
