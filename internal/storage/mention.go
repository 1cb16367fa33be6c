package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"

	"stocknews/internal/model"
)

type MentionPostgresStorage struct {
	db *sqlx.DB
}

type dbMention struct {
	ID          int64          `db:"id"`
	Date        time.Time      `db:"mention_date"`
	CompanyName string         `db:"company_name"`
	StockCode   string         `db:"stock_code"`
	Market      string         `db:"market"`
	SectorName  string         `db:"sector_name"`
	SectorID    sql.NullInt64  `db:"sector_id"`
	Count       int            `db:"mention_count"`
	Links       pq.StringArray `db:"links"`
	Titles      pq.StringArray `db:"titles"`
}

type dbSeriesPoint struct {
	Date  time.Time `db:"mention_date"`
	Count int       `db:"mention_count"`
}

const mentionColumns = `id, mention_date, company_name, stock_code, market, sector_name, sector_id,
	mention_count, links, titles`

func NewMentionStorage(db *sqlx.DB) *MentionPostgresStorage {
	return &MentionPostgresStorage{
		db: db,
	}
}

func toMention(m dbMention) model.Mention {
	return model.Mention{
		ID:          m.ID,
		Date:        m.Date,
		CompanyName: m.CompanyName,
		StockCode:   m.StockCode,
		Market:      model.ParseMarket(m.Market),
		SectorName:  m.SectorName,
		SectorID:    m.SectorID.Int64,
		Count:       m.Count,
		Links:       []string(m.Links),
		Titles:      []string(m.Titles),
	}
}

// LinksForDate returns every link already stored for date.
func (s *MentionPostgresStorage) LinksForDate(ctx context.Context, date time.Time) ([]string, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var links []string

	if err := conn.SelectContext(
		ctx,
		&links,
		`SELECT DISTINCT l.link FROM news_mention_links l
			JOIN news_mentions m ON m.id = l.mention_id
			WHERE m.mention_date = $1::DATE`,
		day(date),
	); err != nil {
		return nil, err
	}

	return links, nil
}

// Find returns the record for (date, company, code), or nil when there is none.
func (s *MentionPostgresStorage) Find(ctx context.Context, date time.Time, company, code string) (*model.Mention, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var mention dbMention

	err = conn.GetContext(
		ctx,
		&mention,
		`SELECT `+mentionColumns+` FROM news_mention_summary
			WHERE mention_date = $1::DATE AND company_name = $2 AND stock_code = $3`,
		day(date),
		company,
		code,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	result := toMention(mention)

	return &result, nil
}

// Upsert records one (link, title) sighting for the mention key in a single
// statement. The parent row is created on first sighting; the link row is
// skipped when the link or the title is already attached to the parent.
// It reports whether a new link was appended.
func (s *MentionPostgresStorage) Upsert(ctx context.Context, u model.MentionUpsert) (bool, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	res, err := conn.ExecContext(
		ctx,
		`WITH mention AS (
			INSERT INTO news_mentions (mention_date, company_name, stock_code, market, sector_name, sector_id)
				VALUES ($1::DATE, $2, $3, $4, $5, $6)
				ON CONFLICT (mention_date, company_name, stock_code)
				DO UPDATE SET market = EXCLUDED.market
				RETURNING id
		)
		INSERT INTO news_mention_links (mention_id, link, title)
			SELECT id, $7, $8 FROM mention
			ON CONFLICT DO NOTHING;`,
		day(u.Date),
		u.Company.Name,
		u.Company.Code,
		string(u.Company.Market),
		u.Company.SectorName,
		u.Company.SectorID,
		u.Link,
		u.Title,
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (s *MentionPostgresStorage) ForDate(ctx context.Context, date time.Time) ([]model.Mention, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var mentions []dbMention

	if err := conn.SelectContext(
		ctx,
		&mentions,
		`SELECT `+mentionColumns+` FROM news_mention_summary
			WHERE mention_date = $1::DATE ORDER BY mention_count DESC, company_name`,
		day(date),
	); err != nil {
		return nil, err
	}

	return lo.Map(mentions, func(m dbMention, _ int) model.Mention { return toMention(m) }), nil
}

// LatestDate returns the most recent date with data; ok is false on an empty table.
func (s *MentionPostgresStorage) LatestDate(ctx context.Context) (time.Time, bool, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	defer conn.Close()

	var latest sql.NullTime

	if err := conn.GetContext(ctx, &latest, `SELECT MAX(mention_date) FROM news_mentions`); err != nil {
		return time.Time{}, false, err
	}

	return latest.Time, latest.Valid, nil
}

// ForDateOrLatest falls back to the most recent date with data when date has none.
func (s *MentionPostgresStorage) ForDateOrLatest(ctx context.Context, date time.Time) (time.Time, []model.Mention, error) {
	mentions, err := s.ForDate(ctx, date)
	if err != nil {
		return date, nil, err
	}

	if len(mentions) > 0 {
		return date, mentions, nil
	}

	latest, ok, err := s.LatestDate(ctx)
	if err != nil || !ok {
		return date, nil, err
	}

	mentions, err = s.ForDate(ctx, latest)

	return latest, mentions, err
}

// Series returns the per-day mention counts of one company, by name or code.
func (s *MentionPostgresStorage) Series(ctx context.Context, company string) ([]model.SeriesPoint, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var points []dbSeriesPoint

	if err := conn.SelectContext(
		ctx,
		&points,
		`SELECT mention_date, SUM(mention_count)::INT AS mention_count FROM news_mention_summary
			WHERE company_name = $1 OR stock_code = $1
			GROUP BY mention_date ORDER BY mention_date`,
		company,
	); err != nil {
		return nil, err
	}

	return lo.Map(points, func(p dbSeriesPoint, _ int) model.SeriesPoint { return model.SeriesPoint(p) }), nil
}
