package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"stocknews/internal/config"
	"stocknews/internal/fetcher"
	"stocknews/internal/logger"
	"stocknews/internal/notifier"
	"stocknews/internal/source"
	"stocknews/internal/storage"
)

type Bot struct {
	api      *tgbotapi.BotAPI
	cmdViews map[string]ViewFunc
	log      *zap.Logger
}

func New(api *tgbotapi.BotAPI, log *zap.Logger) *Bot {
	return &Bot{api: api, log: log}
}

func (b *Bot) RegisterCmdView(cmd string, view ViewFunc) {
	if b.cmdViews == nil {
		b.cmdViews = make(map[string]ViewFunc)
	}

	b.cmdViews[cmd] = view
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	// перехватываем панику в ViewFunc
	defer func() {
		if p := recover(); p != nil {
			b.log.Error("panic in view recovered", zap.Any("panic", p))
		}
	}()

	if update.Message == nil || !update.Message.IsCommand() {
		return
	}

	command := update.Message.Command()

	view, ok := b.cmdViews[command]
	if !ok {
		return
	}

	if err := view(ctx, b.api, update); err != nil {
		b.log.Error("execute view failed", zap.String("command", command), zap.Error(err))

		if _, sendErr := b.api.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Internal error")); sendErr != nil {
			b.log.Error("send error message failed", zap.Error(sendErr))
		}
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			updateCtx, updateCancel := context.WithTimeout(context.Background(), 5*time.Minute)
			b.handleUpdate(updateCtx, update)
			updateCancel()
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Get()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := storage.Connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := storage.Migrate(db); err != nil {
		return err
	}

	loc := cfg.Location()
	client := source.NewClient(cfg.ArticleTimeout, cfg.UserAgent)

	var (
		companyStorage = storage.NewCompanyStorage(db)
		mentionStorage = storage.NewMentionStorage(db)
		crawler        = source.NewCrawler(
			source.NewHTTPPager(client, cfg.ListURL, cfg.PageURL, cfg.MoreSelector, cfg.MoreWait, cfg.PageDelay),
			source.SelectorExtractor{Item: cfg.ItemSelector, Date: cfg.DateSelector},
			cfg.Origin,
			loc,
		)
		opts = fetcher.Options{
			CutoffDays:     cfg.CutoffDays,
			Workers:        cfg.Workers,
			ArticleTimeout: cfg.ArticleTimeout,
			Schedule:       cfg.Schedule,
			Location:       loc,
		}
	)

	if cfg.RunOnce {
		report, err := fetcher.New(companyStorage, mentionStorage, crawler, client, nil, log, opts).Fetch(ctx)
		log.Info("run once finished",
			zap.Bool("ok", report.OK()),
			zap.Int("candidates", report.Candidates),
			zap.Int("stored", report.Stored),
		)

		return err
	}

	if cfg.TelegramBotToken == "" {
		log.Info("telegram token not set, running scheduler only")

		return ignoreCanceled(fetcher.New(companyStorage, mentionStorage, crawler, client, nil, log, opts).Run(ctx))
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("create bot api: %w", err)
	}

	var reporter fetcher.Reporter
	if cfg.TelegramChannelID != 0 {
		reporter = notifier.New(mentionStorage, botAPI, cfg.TelegramChannelID, cfg.DigestSize, loc)
	}

	f := fetcher.New(companyStorage, mentionStorage, crawler, client, reporter, log, opts)

	bot := New(botAPI, log)
	bot.RegisterCmdView("start", ViewCmdStart())
	bot.RegisterCmdView("crawl", ViewCmdCrawl(ctx, f, log))
	bot.RegisterCmdView("news", ViewCmdNews(mentionStorage, loc, cfg.DigestSize))
	bot.RegisterCmdView("sector", ViewCmdSector(mentionStorage, loc))
	bot.RegisterCmdView("series", ViewCmdSeries(mentionStorage))

	go func(ctx context.Context) {
		if err := f.Run(ctx); err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Error("failed to run fetcher", zap.Error(err))
				cancel()
				return
			}

			log.Info("fetcher has stopped")
		}
	}(ctx)

	if err := bot.Run(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run bot: %w", err)
		}

		log.Info("bot has stopped")
	}

	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
