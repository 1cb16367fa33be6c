package source

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"go.uber.org/zap"

	"stocknews/internal/logger"
	"stocknews/internal/model"
)

// Result is the outcome of one crawl. Latest is zero when nothing was accepted.
type Result struct {
	Candidates []model.Candidate
	Latest     time.Time
}

type Crawler struct {
	pager     Pager
	extractor Extractor
	origin    string
	loc       *time.Location
}

func NewCrawler(pager Pager, extractor Extractor, origin string, loc *time.Location) *Crawler {
	if loc == nil {
		loc = time.Local
	}

	return &Crawler{
		pager:     pager,
		extractor: extractor,
		origin:    strings.TrimRight(origin, "/"),
		loc:       loc,
	}
}

// Crawl scans the listing newest first and collects candidates published on
// or after cutoff's day. Links in seen are skipped without stopping the scan.
// The first entry older than the cutoff ends the crawl. A page that adds no
// new candidate, or a listing that cannot be extended, also ends it.
func (c *Crawler) Crawl(ctx context.Context, cutoff time.Time, seen map[string]struct{}) (Result, error) {
	log := logger.FromContext(ctx)

	var res Result

	known := make(map[string]struct{}, len(seen))
	maps.Copy(known, seen)

	cutoffDay := model.Day(cutoff.In(c.loc))

	doc, err := c.pager.Open(ctx)
	if err != nil {
		return res, fmt.Errorf("open listing: %w", err)
	}

	for page := 1; ; page++ {
		accepted := 0

		for _, entry := range c.extractor.Extract(doc) {
			if entry.Href == "" {
				continue
			}

			link := c.resolve(entry.Href)

			published, err := dateparse.ParseIn(entry.Published, c.loc)
			if err != nil {
				log.Warn("unparsable listing date", zap.String("link", link), zap.String("text", entry.Published), zap.Error(err))
				continue
			}

			if _, ok := known[link]; ok {
				log.Debug("known link, scanning on", zap.String("link", link))
				continue
			}

			if model.Day(published).Before(cutoffDay) {
				log.Info("reached news older than cutoff, crawl done",
					zap.String("cutoff", cutoffDay.Format(time.DateOnly)),
					zap.Int("candidates", len(res.Candidates)),
				)

				return res, nil
			}

			res.Candidates = append(res.Candidates, model.Candidate{Link: link, Published: published})
			res.Latest = published
			known[link] = struct{}{}
			accepted++
		}

		if accepted == 0 {
			log.Info("no new links on page, crawl done", zap.Int("page", page), zap.Int("candidates", len(res.Candidates)))
			return res, nil
		}

		if err := ctx.Err(); err != nil {
			return res, err
		}

		doc, err = c.pager.More(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}

			if !errors.Is(err, ErrNoMore) {
				log.Warn("load more failed", zap.Int("page", page), zap.Error(err))
			}

			log.Info("listing exhausted, crawl done", zap.Int("page", page), zap.Int("candidates", len(res.Candidates)), zap.Error(err))

			return res, nil
		}
	}
}

func (c *Crawler) resolve(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}

	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}

	return c.origin + href
}
