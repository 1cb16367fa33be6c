package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/samber/lo"

	"stocknews/internal/model"
)

type MentionProvider interface {
	ForDateOrLatest(ctx context.Context, date time.Time) (time.Time, []model.Mention, error)
}

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Notifier struct {
	mentions   MentionProvider
	bot        Sender
	channelID  int64
	digestSize int
	loc        *time.Location
}

func New(mentions MentionProvider, bot Sender, channelID int64, digestSize int, loc *time.Location) *Notifier {
	if loc == nil {
		loc = time.Local
	}

	return &Notifier{
		mentions:   mentions,
		bot:        bot,
		channelID:  channelID,
		digestSize: digestSize,
		loc:        loc,
	}
}

// SendReport posts the outcome of a fetch and, when it succeeded, the
// day's most mentioned companies.
func (n *Notifier) SendReport(ctx context.Context, report model.Report) error {
	text := FormatReport(report, 0)

	if report.OK() {
		date, mentions, err := n.mentions.ForDateOrLatest(ctx, model.Day(report.FinishedAt.In(n.loc)))
		if err != nil {
			return err
		}

		text += "\n\n" + FormatMentions(date, mentions, n.digestSize)
	}

	return n.send(n.channelID, text)
}

func (n *Notifier) send(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	_, err := n.bot.Send(msg)
	if err != nil {
		return err
	}

	return nil
}

const maxMessageLen = 3500

// FormatReport renders a fetch outcome; logTail > 0 appends that many last log lines.
func FormatReport(report model.Report, logTail int) string {
	var b strings.Builder

	if report.OK() {
		b.WriteString("*뉴스 수집 완료*\n")
	} else {
		b.WriteString("*뉴스 수집 실패*\n")
	}

	b.WriteString(EscapeForMarkdown(fmt.Sprintf(
		"후보 %d · 기사 %d · 저장 %d · 중복 %d · 실패 %d",
		report.Candidates, report.Articles, report.Stored, report.Duplicates, report.Failed,
	)))

	if !report.Latest.IsZero() {
		b.WriteString("\n" + EscapeForMarkdown("마지막 기사: "+report.Latest.Format("2006-01-02 15:04")))
	}

	if report.Err != nil {
		b.WriteString("\n" + EscapeForMarkdown("오류: "+report.Err.Error()))
	}

	if logTail > 0 && len(report.Log) > 0 {
		lines := report.Log[max(0, len(report.Log)-logTail):]
		log := strings.Join(lines, "\n")

		if len(log) > maxMessageLen {
			log = log[len(log)-maxMessageLen:]
			for len(log) > 0 && !utf8.RuneStart(log[0]) {
				log = log[1:]
			}
			if i := strings.IndexByte(log, '\n'); i >= 0 {
				log = log[i+1:]
			}
		}

		b.WriteString("\n```\n" + EscapeForCode(log) + "\n```")
	}

	return b.String()
}

func FormatMentions(date time.Time, mentions []model.Mention, limit int) string {
	var b strings.Builder

	b.WriteString("*" + EscapeForMarkdown(date.Format(time.DateOnly)+" 종목별 뉴스") + "*")

	if len(mentions) == 0 {
		b.WriteString("\n" + EscapeForMarkdown("수집된 뉴스가 없습니다."))
		return b.String()
	}

	if limit > 0 && len(mentions) > limit {
		mentions = mentions[:limit]
	}

	for i, m := range mentions {
		b.WriteString("\n" + EscapeForMarkdown(fmt.Sprintf(
			"%d. %s (%s, %s, %s) %d건",
			i+1, m.CompanyName, m.StockCode, m.Market, m.SectorName, m.Count,
		)))
	}

	return b.String()
}

func FormatSeries(company string, points []model.SeriesPoint) string {
	var b strings.Builder

	b.WriteString("*" + EscapeForMarkdown(company+" 뉴스 추이") + "*")

	if len(points) == 0 {
		b.WriteString("\n" + EscapeForMarkdown("기록이 없습니다."))
		return b.String()
	}

	total := lo.SumBy(points, func(p model.SeriesPoint) int { return p.Count })

	for _, p := range points {
		b.WriteString("\n" + EscapeForMarkdown(fmt.Sprintf("%s: %d", p.Date.Format(time.DateOnly), p.Count)))
	}

	b.WriteString("\n" + EscapeForMarkdown(fmt.Sprintf("합계 %d건 / %d일", total, len(points))))

	return b.String()
}

var (
	replacer = strings.NewReplacer(
		"\\",
		"\\\\",
		"-",
		"\\-",
		"_",
		"\\_",
		"*",
		"\\*",
		"[",
		"\\[",
		"]",
		"\\]",
		"(",
		"\\(",
		")",
		"\\)",
		"~",
		"\\~",
		"`",
		"\\`",
		">",
		"\\>",
		"#",
		"\\#",
		"+",
		"\\+",
		"=",
		"\\=",
		"|",
		"\\|",
		"{",
		"\\{",
		"}",
		"\\}",
		".",
		"\\.",
		"!",
		"\\!",
	)

	codeReplacer = strings.NewReplacer("\\", "\\\\", "`", "\\`")
)

func EscapeForMarkdown(src string) string {
	return replacer.Replace(src)
}

// EscapeForCode escapes text placed inside a pre or code entity.
func EscapeForCode(src string) string {
	return codeReplacer.Replace(src)
}
