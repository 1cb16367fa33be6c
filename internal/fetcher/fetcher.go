package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stocknews/internal/logger"
	"stocknews/internal/model"
	"stocknews/internal/source"
)

var (
	ErrNoReference = errors.New("reference company data is empty")
	ErrRunning     = errors.New("fetch already running")
)

type CompanyList interface {
	Companies(ctx context.Context) (map[string]model.Company, error)
}

type MentionStorage interface {
	LinksForDate(ctx context.Context, date time.Time) ([]string, error)
	Find(ctx context.Context, date time.Time, company, code string) (*model.Mention, error)
	Upsert(ctx context.Context, u model.MentionUpsert) (bool, error)
}

type Crawler interface {
	Crawl(ctx context.Context, cutoff time.Time, seen map[string]struct{}) (source.Result, error)
}

type Pages interface {
	Document(ctx context.Context, url string) (*goquery.Document, error)
}

type Reporter interface {
	SendReport(ctx context.Context, report model.Report) error
}

type Options struct {
	CutoffDays     int
	Workers        int
	ArticleTimeout time.Duration
	Schedule       string
	Location       *time.Location
	Now            func() time.Time
}

type Fetcher struct {
	companies CompanyList
	mentions  MentionStorage
	crawler   Crawler
	pages     Pages
	reporter  Reporter
	log       *zap.Logger

	opts    Options
	running sync.Mutex
}

func New(companies CompanyList, mentions MentionStorage, crawler Crawler, pages Pages,
	reporter Reporter, log *zap.Logger, opts Options) *Fetcher {

	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Fetcher{
		companies: companies,
		mentions:  mentions,
		crawler:   crawler,
		pages:     pages,
		reporter:  reporter,
		log:       log,
		opts:      opts,
	}
}

// Run fetches on the configured cron schedule until ctx is done.
func (f *Fetcher) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(f.opts.Location))

	if _, err := c.AddFunc(f.opts.Schedule, func() { f.scheduled(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", f.opts.Schedule, err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	return ctx.Err()
}

func (f *Fetcher) scheduled(ctx context.Context) {
	report, err := f.Fetch(ctx)
	if errors.Is(err, ErrRunning) {
		f.log.Info("previous fetch still running, skipping")
		return
	}

	if err != nil {
		f.log.Error("scheduled fetch failed", zap.Error(err))
	}

	if f.reporter == nil {
		return
	}

	if err := f.reporter.SendReport(ctx, report); err != nil {
		f.log.Warn("send report failed", zap.Error(err))
	}
}

// Fetch runs one full cycle: reference data, dedup set, crawl, process.
// The report carries the action log of the cycle whatever the outcome.
func (f *Fetcher) Fetch(ctx context.Context) (model.Report, error) {
	if !f.running.TryLock() {
		return model.Report{Err: ErrRunning}, ErrRunning
	}
	defer f.running.Unlock()

	runLog, rec := logger.Capture(f.log)
	ctx = logger.WithContext(ctx, runLog)

	report := model.Report{StartedAt: f.opts.Now()}

	err := f.fetch(ctx, &report)
	if err != nil {
		runLog.Error("fetch failed", zap.Error(err))
	} else {
		runLog.Info("fetch finished",
			zap.Int("candidates", report.Candidates),
			zap.Int("articles", report.Articles),
			zap.Int("stored", report.Stored),
			zap.Int("duplicates", report.Duplicates),
			zap.Int("failed", report.Failed),
		)
	}

	report.FinishedAt = f.opts.Now()
	report.Err = err
	report.Log = rec.Lines()

	return report, err
}

func (f *Fetcher) fetch(ctx context.Context, report *model.Report) error {
	log := logger.FromContext(ctx)

	companies, err := f.companies.Companies(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoReference, err)
	}
	if len(companies) == 0 {
		return ErrNoReference
	}
	log.Info("reference data loaded", zap.Int("companies", len(companies)))

	today := model.Day(f.opts.Now().In(f.opts.Location))

	links, err := f.mentions.LinksForDate(ctx, today)
	if err != nil {
		log.Warn("stored links unavailable, crawling without dedup set", zap.Error(err))
	}
	log.Info("stored links loaded", zap.String("date", today.Format(time.DateOnly)), zap.Int("links", len(links)))

	seen := lo.SliceToMap(links, func(link string) (string, struct{}) { return link, struct{}{} })
	cutoff := today.AddDate(0, 0, -f.opts.CutoffDays)

	res, err := f.crawler.Crawl(ctx, cutoff, seen)
	report.Candidates = len(res.Candidates)
	report.Latest = res.Latest
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	log.Info("listing crawled", zap.Int("candidates", len(res.Candidates)))

	stats := f.Process(ctx, companies, res.Candidates)
	report.Articles = stats.Articles
	report.Failed = stats.Failed
	report.Stored = stats.Stored
	report.Duplicates = stats.Duplicates

	return ctx.Err()
}

type Stats struct {
	Articles   int
	Failed     int
	Stored     int
	Duplicates int
}

type counters struct {
	articles   atomic.Int64
	failed     atomic.Int64
	stored     atomic.Int64
	duplicates atomic.Int64
}

// Process fetches every candidate on a bounded worker pool and merges the
// tracked companies it mentions into storage. Failures stay per candidate.
func (f *Fetcher) Process(ctx context.Context, companies map[string]model.Company, candidates []model.Candidate) Stats {
	var cnt counters

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Workers)

	for _, candidate := range candidates {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			f.processCandidate(gctx, companies, candidate, &cnt)
			return nil
		})
	}

	_ = g.Wait()

	return Stats{
		Articles:   int(cnt.articles.Load()),
		Failed:     int(cnt.failed.Load()),
		Stored:     int(cnt.stored.Load()),
		Duplicates: int(cnt.duplicates.Load()),
	}
}

func (f *Fetcher) processCandidate(ctx context.Context, companies map[string]model.Company, c model.Candidate, cnt *counters) {
	log := logger.FromContext(ctx).With(zap.String("link", c.Link))

	article, err := f.article(ctx, c.Link)
	if err != nil {
		cnt.failed.Add(1)
		log.Warn("article fetch failed", zap.Error(err))
		return
	}
	cnt.articles.Add(1)

	date := c.Day()

	for _, code := range article.Codes {
		company, ok := companies[code]
		if !ok {
			continue
		}

		clog := log.With(zap.String("company", company.Name), zap.String("date", date.Format(time.DateOnly)))

		existing, err := f.mentions.Find(ctx, date, company.Name, company.Code)
		if err != nil {
			cnt.failed.Add(1)
			clog.Error("mention lookup failed", zap.Error(err))
			continue
		}

		if existing != nil && (existing.HasLink(article.Link) || existing.HasTitle(article.Title)) {
			cnt.duplicates.Add(1)
			clog.Info("already stored, skipping")
			continue
		}

		added, err := f.mentions.Upsert(ctx, model.MentionUpsert{
			Date:    date,
			Company: company,
			Link:    article.Link,
			Title:   article.Title,
		})
		if err != nil {
			cnt.failed.Add(1)
			clog.Error("mention upsert failed", zap.Error(err))
			continue
		}

		if !added {
			cnt.duplicates.Add(1)
			clog.Info("already stored, skipping")
			continue
		}

		cnt.stored.Add(1)
		clog.Info("stored mention", zap.String("title", article.Title))
	}
}

func (f *Fetcher) article(ctx context.Context, link string) (Article, error) {
	if f.opts.ArticleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.ArticleTimeout)
		defer cancel()
	}

	doc, err := f.pages.Document(ctx, link)
	if err != nil {
		return Article{}, err
	}

	return ParseArticle(doc, link), nil
}
