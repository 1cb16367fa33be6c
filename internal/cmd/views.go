package main

import (
	"context"
	"errors"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"stocknews/internal/fetcher"
	"stocknews/internal/model"
	"stocknews/internal/notifier"
)

type ViewFunc func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error

type MentionQueries interface {
	ForDateOrLatest(ctx context.Context, date time.Time) (time.Time, []model.Mention, error)
	Series(ctx context.Context, company string) ([]model.SeriesPoint, error)
}

const crawlLogTail = 20

const helpText = `/crawl - 뉴스 수집 실행
/news [YYYY-MM-DD] - 날짜별 종목 뉴스
/sector <업종> [YYYY-MM-DD] - 업종별 종목 뉴스
/series <기업명|종목코드> - 기업별 뉴스 추이`

func reply(bot *tgbotapi.BotAPI, update tgbotapi.Update, markdown string) error {
	msg := tgbotapi.NewMessage(update.FromChat().ID, markdown)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	_, err := bot.Send(msg)

	return err
}

func ViewCmdStart() ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		if _, err := bot.Send(tgbotapi.NewMessage(update.FromChat().ID, helpText)); err != nil {
			return err
		}

		return nil
	}
}

// ViewCmdCrawl triggers one fetch and replies with its outcome and log tail.
// The fetch outlives the update context, so it is bound to the service context.
func ViewCmdCrawl(serviceCtx context.Context, f *fetcher.Fetcher, log *zap.Logger) ViewFunc {
	return func(_ context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		if err := reply(bot, update, notifier.EscapeForMarkdown("수집을 시작합니다.")); err != nil {
			return err
		}

		go func() {
			report, err := f.Fetch(serviceCtx)

			text := notifier.FormatReport(report, crawlLogTail)
			if errors.Is(err, fetcher.ErrRunning) {
				text = notifier.EscapeForMarkdown("이미 수집이 진행 중입니다.")
			}

			if err := reply(bot, update, text); err != nil {
				log.Error("send crawl report failed", zap.Error(err))
			}
		}()

		return nil
	}
}

func ViewCmdNews(mentions MentionQueries, loc *time.Location, limit int) ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		date, ok := parseDate(strings.TrimSpace(update.Message.CommandArguments()), loc)
		if !ok {
			return reply(bot, update, notifier.EscapeForMarkdown("날짜 형식: YYYY-MM-DD"))
		}

		shown, list, err := mentions.ForDateOrLatest(ctx, date)
		if err != nil {
			return err
		}

		return reply(bot, update, fallbackNote(date, shown)+notifier.FormatMentions(shown, list, limit))
	}
}

func ViewCmdSector(mentions MentionQueries, loc *time.Location) ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		sector, dateArg := splitSectorArgs(update.Message.CommandArguments())
		if sector == "" {
			return reply(bot, update, notifier.EscapeForMarkdown("사용법: /sector <업종> [YYYY-MM-DD]"))
		}

		date, ok := parseDate(dateArg, loc)
		if !ok {
			return reply(bot, update, notifier.EscapeForMarkdown("날짜 형식: YYYY-MM-DD"))
		}

		shown, list, err := mentions.ForDateOrLatest(ctx, date)
		if err != nil {
			return err
		}

		list = lo.Filter(list, func(m model.Mention, _ int) bool { return m.SectorName == sector })

		return reply(bot, update, fallbackNote(date, shown)+notifier.FormatMentions(shown, list, 0))
	}
}

func ViewCmdSeries(mentions MentionQueries) ViewFunc {
	return func(ctx context.Context, bot *tgbotapi.BotAPI, update tgbotapi.Update) error {
		company := strings.TrimSpace(update.Message.CommandArguments())
		if company == "" {
			return reply(bot, update, notifier.EscapeForMarkdown("사용법: /series <기업명|종목코드>"))
		}

		if len(company) < model.CodeWidth && lo.EveryBy([]rune(company), func(r rune) bool { return r >= '0' && r <= '9' }) {
			company = model.PadCode(company)
		}

		points, err := mentions.Series(ctx, company)
		if err != nil {
			return err
		}

		return reply(bot, update, notifier.FormatSeries(company, points))
	}
}

// parseDate reads YYYY-MM-DD; an empty argument means today.
func parseDate(arg string, loc *time.Location) (time.Time, bool) {
	if arg == "" {
		return model.Day(time.Now().In(loc)), true
	}

	date, err := time.ParseInLocation(time.DateOnly, arg, loc)
	if err != nil {
		return time.Time{}, false
	}

	return date, true
}

// splitSectorArgs separates a trailing date from a sector name that may contain spaces.
func splitSectorArgs(args string) (string, string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "", ""
	}

	last := fields[len(fields)-1]
	if _, err := time.Parse(time.DateOnly, last); err == nil {
		return strings.Join(fields[:len(fields)-1], " "), last
	}

	return strings.Join(fields, " "), ""
}

func fallbackNote(asked, shown time.Time) string {
	if asked.Format(time.DateOnly) == shown.Format(time.DateOnly) {
		return ""
	}

	return notifier.EscapeForMarkdown(asked.Format(time.DateOnly)+" 데이터가 없어 최근 날짜를 표시합니다.") + "\n"
}
