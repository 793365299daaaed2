package taxrate

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Current returns the highest-version rate already in effect.
func (r *Repository) Current(ctx context.Context) (TaxRate, error) {
	var (
		rate    TaxRate
		rateStr string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, rate, valid_from, version FROM tax_rates
		 WHERE valid_from <= NOW() ORDER BY version DESC LIMIT 1`).
		Scan(&rate.ID, &rateStr, &rate.ValidFrom, &rate.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TaxRate{}, ErrNotConfigured
		}
		return TaxRate{}, err
	}
	parsed, err := decimal.NewFromString(rateStr)
	if err != nil {
		return TaxRate{}, err
	}
	rate.Rate = parsed
	return rate, nil
}
