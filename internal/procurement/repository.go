package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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

// GetRequest returns a purchase request and its lines.
func (r *Repository) GetRequest(ctx context.Context, id int64) (PurchaseRequest, []RequestLine, error) {
	var pr PurchaseRequest
	err := r.pool.QueryRow(ctx,
		`SELECT id, description, status, requester_id, department, created_at FROM purchase_requests WHERE id=$1`, id).
		Scan(&pr.ID, &pr.Description, &pr.Status, &pr.RequesterID, &pr.Department, &pr.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRequest{}, nil, ErrNotFound
		}
		return PurchaseRequest{}, nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, request_id, product_id, qty FROM request_lines WHERE request_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseRequest{}, nil, err
	}
	defer rows.Close()
	var lines []RequestLine
	for rows.Next() {
		var line RequestLine
		if err := rows.Scan(&line.ID, &line.RequestID, &line.ProductID, &line.Qty); err != nil {
			return PurchaseRequest{}, nil, err
		}
		lines = append(lines, line)
	}
	return pr, lines, rows.Err()
}

// ListPendingRequests lists consolidation candidates. A positive category id
// narrows the candidates to requests holding at least one product of that
// category; it never affects aggregation.
func (r *Repository) ListPendingRequests(ctx context.Context, categoryID int64) ([]PurchaseRequest, error) {
	query := `SELECT pr.id, pr.description, pr.status, pr.requester_id, pr.department, pr.created_at
		FROM purchase_requests pr WHERE pr.status=$1`
	args := []any{string(RequestStatusPending)}
	if categoryID > 0 {
		query += ` AND EXISTS (
			SELECT 1 FROM request_lines rl JOIN products p ON p.id = rl.product_id
			WHERE rl.request_id = pr.id AND p.category_id = $2)`
		args = append(args, categoryID)
	}
	query += ` ORDER BY pr.created_at`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var requests []PurchaseRequest
	for rows.Next() {
		var pr PurchaseRequest
		if err := rows.Scan(&pr.ID, &pr.Description, &pr.Status, &pr.RequesterID, &pr.Department, &pr.CreatedAt); err != nil {
			return nil, err
		}
		requests = append(requests, pr)
	}
	return requests, rows.Err()
}

// GetOrder returns a purchase order and its lines.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []OrderLine, error) {
	var (
		po                                PurchaseOrder
		subtotal, tax, withholding, net   string
		withholdingPct, taxRate           string
		estimatedDelivery, actualDelivery *time.Time
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, COALESCE(request_id,0), COALESCE(consolidation_id,0), supplier_id, status, currency,
			subtotal, tax, withholding, net_payable, withholding_percent, tax_rate,
			estimated_delivery, actual_delivery, notes, version, created_at
		 FROM purchase_orders WHERE id=$1`, id).
		Scan(&po.ID, &po.RequestID, &po.ConsolidationID, &po.SupplierID, &po.Status, &po.Currency,
			&subtotal, &tax, &withholding, &net, &withholdingPct, &taxRate,
			&estimatedDelivery, &actualDelivery, &po.Notes, &po.Version, &po.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, ErrNotFound
		}
		return PurchaseOrder{}, nil, err
	}
	if po.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return PurchaseOrder{}, nil, err
	}
	if po.Tax, err = decimal.NewFromString(tax); err != nil {
		return PurchaseOrder{}, nil, err
	}
	if po.Withholding, err = decimal.NewFromString(withholding); err != nil {
		return PurchaseOrder{}, nil, err
	}
	if po.NetPayable, err = decimal.NewFromString(net); err != nil {
		return PurchaseOrder{}, nil, err
	}
	if po.WithholdingPercent, err = decimal.NewFromString(withholdingPct); err != nil {
		return PurchaseOrder{}, nil, err
	}
	if po.TaxRate, err = decimal.NewFromString(taxRate); err != nil {
		return PurchaseOrder{}, nil, err
	}
	if estimatedDelivery != nil {
		po.EstimatedDelivery = *estimatedDelivery
	}
	if actualDelivery != nil {
		po.ActualDelivery = *actualDelivery
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, product_id, qty, unit_price FROM order_lines WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	var lines []OrderLine
	for rows.Next() {
		var (
			line  OrderLine
			price string
		)
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Qty, &price); err != nil {
			return PurchaseOrder{}, nil, err
		}
		if line.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return PurchaseOrder{}, nil, err
		}
		lines = append(lines, line)
	}
	return po, lines, rows.Err()
}

// GetConsolidation returns a consolidated order and its aggregated lines.
func (r *Repository) GetConsolidation(ctx context.Context, id int64) (ConsolidatedOrder, []ConsolidatedLine, error) {
	var co ConsolidatedOrder
	err := r.pool.QueryRow(ctx,
		`SELECT id, supplier_id, status, created_at FROM consolidated_orders WHERE id=$1`, id).
		Scan(&co.ID, &co.SupplierID, &co.Status, &co.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ConsolidatedOrder{}, nil, ErrNotFound
		}
		return ConsolidatedOrder{}, nil, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, consolidation_id, product_id, description, qty, request_ids
		 FROM consolidated_lines WHERE consolidation_id=$1 ORDER BY id`, id)
	if err != nil {
		return ConsolidatedOrder{}, nil, err
	}
	defer rows.Close()
	var lines []ConsolidatedLine
	for rows.Next() {
		var line ConsolidatedLine
		if err := rows.Scan(&line.ID, &line.ConsolidationID, &line.ProductID, &line.Description, &line.Qty, &line.RequestIDs); err != nil {
			return ConsolidatedOrder{}, nil, err
		}
		lines = append(lines, line)
	}
	return co, lines, rows.Err()
}

// InvoiceNumberExists reports whether the number is already registered.
// The unique index on invoices.number remains the real guarantee; this is
// the fast-fail pre-check.
func (r *Repository) InvoiceNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM invoices WHERE number=$1)`, number).Scan(&exists)
	return exists, err
}

func (t *txRepo) CreateConsolidation(ctx context.Context, co ConsolidatedOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO consolidated_orders (supplier_id, status, created_at) VALUES ($1, $2, NOW()) RETURNING id`,
		co.SupplierID, string(co.Status)).Scan(&id)
	return id, err
}

func (t *txRepo) InsertConsolidatedLine(ctx context.Context, line ConsolidatedLine) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO consolidated_lines (consolidation_id, product_id, description, qty, request_ids)
		 VALUES ($1, $2, $3, $4, $5)`,
		line.ConsolidationID, line.ProductID, line.Description, line.Qty, line.RequestIDs)
	return err
}

func (t *txRepo) UpdateConsolidationStatus(ctx context.Context, id int64, status ConsolidationStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE consolidated_orders SET status=$1 WHERE id=$2`, string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) DeleteConsolidation(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM consolidated_lines WHERE consolidation_id=$1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM consolidated_orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) CreateOrder(ctx context.Context, po PurchaseOrder) (int64, error) {
	var (
		id              int64
		requestID       any
		consolidationID any
		estimated       any
	)
	if po.RequestID != 0 {
		requestID = po.RequestID
	}
	if po.ConsolidationID != 0 {
		consolidationID = po.ConsolidationID
	}
	if !po.EstimatedDelivery.IsZero() {
		estimated = po.EstimatedDelivery
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO purchase_orders
			(request_id, consolidation_id, supplier_id, status, currency,
			 subtotal, tax, withholding, net_payable, withholding_percent, tax_rate,
			 estimated_delivery, notes, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		 RETURNING id`,
		requestID, consolidationID, po.SupplierID, string(po.Status), po.Currency,
		po.Subtotal.String(), po.Tax.String(), po.Withholding.String(), po.NetPayable.String(),
		po.WithholdingPercent.String(), po.TaxRate.String(),
		estimated, po.Notes, po.Version).Scan(&id)
	return id, err
}

func (t *txRepo) InsertOrderLine(ctx context.Context, line OrderLine) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO order_lines (order_id, product_id, qty, unit_price) VALUES ($1, $2, $3, $4)`,
		line.OrderID, line.ProductID, line.Qty, line.UnitPrice.String())
	return err
}

// TransitionOrder performs the compare-and-swap status update that keeps a
// single writer per order. Zero rows affected means another writer moved
// the order first.
func (t *txRepo) TransitionOrder(ctx context.Context, id int64, from, to OrderStatus, version int64) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_orders SET status=$1, version=version+1 WHERE id=$2 AND status=$3 AND version=$4`,
		string(to), id, string(from), version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %d moved concurrently", ErrConflict, id)
	}
	return nil
}

func (t *txRepo) SetActualDelivery(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET actual_delivery=$1 WHERE id=$2`, at, id)
	return err
}

func (t *txRepo) ClearActualDelivery(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET actual_delivery=NULL WHERE id=$1`, id)
	return err
}

func (t *txRepo) InsertDeferredItem(ctx context.Context, item DeferredItem) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO deferred_items (order_id, product_id, qty, reason, request_id) VALUES ($1, $2, $3, $4, $5)`,
		item.OrderID, item.ProductID, item.Qty, item.Reason, item.RequestID)
	return err
}

func (t *txRepo) InsertMissingItem(ctx context.Context, item MissingItem) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO missing_items (order_id, product_id, missing_qty, reason) VALUES ($1, $2, $3, $4)`,
		item.OrderID, item.ProductID, item.MissingQty, item.Reason)
	return err
}

func (t *txRepo) CreateInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO invoices (order_id, number, received_date, total_received) VALUES ($1, $2, $3, $4) RETURNING id`,
		inv.OrderID, inv.Number, inv.ReceivedDate, inv.TotalReceived.String()).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, fmt.Errorf("%w: invoice number %q already registered", ErrConflict, inv.Number)
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) UpdateRequestStatus(ctx context.Context, id int64, status RequestStatus) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE purchase_requests SET status=$1 WHERE id=$2`, string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) LinkRequestToOrder(ctx context.Context, orderID, requestID int64) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO order_requests (order_id, request_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		orderID, requestID)
	return err
}
