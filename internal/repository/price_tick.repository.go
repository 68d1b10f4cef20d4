package repository

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/pricefeed-service/internal/entity"
)

type PriceTickRepository struct {
	db *sqlx.DB
}

func NewPriceTickRepository(db *sqlx.DB) *PriceTickRepository {
	return &PriceTickRepository{db: db}
}

func (r *PriceTickRepository) Create(ctx context.Context, data *entity.PriceTick) error {
	query, args, err := buildPriceTickInsert(data).ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *PriceTickRepository) LatestBySymbol(ctx context.Context, symbol string) (*entity.PriceTick, error) {
	var tick entity.PriceTick
	err := r.db.GetContext(ctx, &tick,
		"SELECT symbol, price, quantity, is_buyer_maker, event_time, created_at FROM price_ticks WHERE symbol = $1 ORDER BY event_time DESC LIMIT 1",
		symbol)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &tick, nil
}

func buildPriceTickInsert(data *entity.PriceTick) sq.InsertBuilder {
	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(data.TableName()).
		Columns(
			"symbol",
			"price",
			"quantity",
			"is_buyer_maker",
			"event_time",
			"created_at",
		).
		Values(
			data.Symbol,
			data.Price,
			data.Quantity,
			data.IsBuyerMaker,
			data.EventTime,
			data.CreatedAt,
		)
}
