package procurement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/acopio-erp/acopio-erp/internal/notify"
)

// Consolidate aggregates the lines of the selected pending requests by
// product. Output preserves first-seen order; a product absent from every
// selected request is absent from the result. The aggregation is pure and
// order-independent over the multiset of lines.
func (s *Service) Consolidate(ctx context.Context, selectedRequestIDs []int64) ([]ConsolidatedLine, error) {
	if len(selectedRequestIDs) == 0 {
		return nil, fmt.Errorf("%w: no requests selected", ErrValidation)
	}
	byProduct := make(map[int64]int)
	var aggregated []ConsolidatedLine
	for _, id := range selectedRequestIDs {
		request, lines, err := s.repo.GetRequest(ctx, id)
		if err != nil {
			return nil, err
		}
		if request.Status != RequestStatusPending {
			return nil, fmt.Errorf("%w: request %d is %s", ErrValidation, id, request.Status)
		}
		for _, line := range lines {
			idx, seen := byProduct[line.ProductID]
			if !seen {
				byProduct[line.ProductID] = len(aggregated)
				aggregated = append(aggregated, ConsolidatedLine{
					ProductID:   line.ProductID,
					Description: s.productDescription(ctx, line.ProductID),
					Qty:         line.Qty,
					RequestIDs:  []int64{id},
				})
				continue
			}
			aggregated[idx].Qty += line.Qty
			if !containsID(aggregated[idx].RequestIDs, id) {
				aggregated[idx].RequestIDs = append(aggregated[idx].RequestIDs, id)
			}
		}
	}
	return aggregated, nil
}

// ListPendingRequests returns the consolidation candidates. The category
// filter narrows the candidate list only; it never touches aggregation.
func (s *Service) ListPendingRequests(ctx context.Context, categoryID int64) ([]PurchaseRequest, error) {
	return s.repo.ListPendingRequests(ctx, categoryID)
}

// CreateConsolidatedOrder persists a pending consolidated order holding the
// aggregated lines and their originating request ids.
func (s *Service) CreateConsolidatedOrder(ctx context.Context, supplierID int64, selectedRequestIDs []int64) (ConsolidatedOrder, error) {
	if supplierID <= 0 {
		return ConsolidatedOrder{}, fmt.Errorf("%w: supplier required", ErrValidation)
	}
	lines, err := s.Consolidate(ctx, selectedRequestIDs)
	if err != nil {
		return ConsolidatedOrder{}, err
	}
	if len(lines) == 0 {
		return ConsolidatedOrder{}, fmt.Errorf("%w: selected requests contributed no lines", ErrValidation)
	}
	co := ConsolidatedOrder{SupplierID: supplierID, Status: ConsolidationStatusPending}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateConsolidation(ctx, co)
		if err != nil {
			return err
		}
		co.ID = id
		for _, line := range lines {
			line.ConsolidationID = id
			if err := tx.InsertConsolidatedLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ConsolidatedOrder{}, err
	}
	s.recordAudit(ctx, "CONSOLIDATION_CREATE", co.ID, map[string]any{"supplier_id": supplierID, "requests": selectedRequestIDs})
	s.emit(ctx, notify.Event{
		Type:        notify.EventConsolidationCreated,
		Title:       "Consolidated order created",
		Description: fmt.Sprintf("Consolidated order %d groups %d products for supplier %d", co.ID, len(lines), supplierID),
		Meta:        map[string]any{"consolidation_id": co.ID},
	})
	return co, nil
}

// DeleteConsolidatedOrder discards a consolidation that has not been turned
// into an order yet. The originating requests stay pending and remain
// eligible for re-consolidation or individual approval.
func (s *Service) DeleteConsolidatedOrder(ctx context.Context, id int64) error {
	co, _, err := s.repo.GetConsolidation(ctx, id)
	if err != nil {
		return err
	}
	if co.Status != ConsolidationStatusPending {
		return fmt.Errorf("%w: consolidation %d is %s", ErrInvalidState, id, co.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteConsolidation(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "CONSOLIDATION_DELETE", id, nil)
	return nil
}

func (s *Service) productDescription(ctx context.Context, productID int64) string {
	if s.products == nil {
		return ""
	}
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		s.logger.Debug("product lookup failed", slog.Int64("product_id", productID), slog.Any("error", err))
		return ""
	}
	return product.Name
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
