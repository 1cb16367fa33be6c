package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	"stocknews/internal/model"
)

type CompanyPostgresStorage struct {
	db *sqlx.DB
}

type dbCompany struct {
	Code       string         `db:"code"`
	Name       string         `db:"name"`
	Market     sql.NullString `db:"market"`
	SectorName string         `db:"sector_name"`
	SectorID   int64          `db:"sector_id"`
}

func NewCompanyStorage(db *sqlx.DB) *CompanyPostgresStorage {
	return &CompanyPostgresStorage{
		db: db,
	}
}

// Companies loads the reference table keyed by zero-padded stock code.
// On failure the returned map is empty, never nil.
func (s *CompanyPostgresStorage) Companies(ctx context.Context) (map[string]model.Company, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return map[string]model.Company{}, err
	}
	defer conn.Close()

	var companies []dbCompany

	if err := conn.SelectContext(
		ctx,
		&companies,
		`SELECT c.code::TEXT AS code, c.name, c.market, s.sector_name, s.sector_id
			FROM listed_companies c
			JOIN sectors s ON c.sector_id = s.sector_id`,
	); err != nil {
		return map[string]model.Company{}, err
	}

	return lo.SliceToMap(companies, func(c dbCompany) (string, model.Company) {
		code := model.PadCode(c.Code)

		return code, model.Company{
			Code:       code,
			Name:       strings.TrimSpace(c.Name),
			Market:     model.ParseMarket(c.Market.String),
			SectorName: strings.TrimSpace(c.SectorName),
			SectorID:   c.SectorID,
		}
	}), nil
}
