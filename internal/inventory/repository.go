package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acopio-erp/acopio-erp/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetRecord returns the stock record for a product.
func (r *Repository) GetRecord(ctx context.Context, productID int64) (Record, error) {
	var rec Record
	err := r.pool.QueryRow(ctx,
		`SELECT product_id, qty_on_hand, location, min_level, updated_at FROM inventory_records WHERE product_id=$1`,
		productID).Scan(&rec.ProductID, &rec.Qty, &rec.Location, &rec.MinLevel, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// ListBelowMinimum returns records short of their configured minimum.
func (r *Repository) ListBelowMinimum(ctx context.Context) ([]Record, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT product_id, qty_on_hand, location, min_level, updated_at
		 FROM inventory_records WHERE min_level > 0 AND qty_on_hand < min_level ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ProductID, &rec.Qty, &rec.Location, &rec.MinLevel, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (t *txRepo) InsertReceiptRef(ctx context.Context, ref string) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO stock_receipts (ref, created_at) VALUES ($1, now()) ON CONFLICT (ref) DO NOTHING`,
		ref)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateReceipt
	}
	return nil
}

func (t *txRepo) GetRecordForUpdate(ctx context.Context, productID int64) (Record, error) {
	var rec Record
	err := t.tx.QueryRow(ctx,
		`SELECT product_id, qty_on_hand, location, min_level, updated_at FROM inventory_records WHERE product_id=$1 FOR UPDATE`,
		productID).Scan(&rec.ProductID, &rec.Qty, &rec.Location, &rec.MinLevel, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func (t *txRepo) UpsertRecord(ctx context.Context, record Record) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO inventory_records (product_id, qty_on_hand, location, min_level, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (product_id) DO UPDATE
		 SET qty_on_hand=EXCLUDED.qty_on_hand, location=EXCLUDED.location, updated_at=EXCLUDED.updated_at`,
		record.ProductID, record.Qty, record.Location, record.MinLevel, record.UpdatedAt)
	return err
}
