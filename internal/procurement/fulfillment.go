package procurement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/acopio-erp/acopio-erp/internal/inventory"
	"github.com/acopio-erp/acopio-erp/internal/notify"
	"github.com/acopio-erp/acopio-erp/internal/shared"
)

// ReceivedLine reports how much of a product actually arrived.
type ReceivedLine struct {
	ProductID int64
	Qty       int64
	Reason    string
}

// CompleteInput describes a fulfillment event for a pending order.
type CompleteInput struct {
	OrderID        int64
	Received       []ReceivedLine
	InvoiceNumber  string
	ActualDelivery time.Time
}

// CompletionResult summarises what the reconciliation recorded.
type CompletionResult struct {
	Order         PurchaseOrder `json:"order"`
	Missing       []MissingItem `json:"missing"`
	ReceivedTotal int64         `json:"received_total"`
}

// Complete reconciles a delivery against a pending order: splits every line
// into received and missing quantities, posts received stock, records
// missing items and the optional invoice, and finalises the order.
func (s *Service) Complete(ctx context.Context, input CompleteInput) (CompletionResult, error) {
	order, lines, err := s.repo.GetOrder(ctx, input.OrderID)
	if err != nil {
		return CompletionResult{}, err
	}
	if order.Status != OrderStatusPending {
		return CompletionResult{}, fmt.Errorf("%w: order %d is %s", ErrInvalidState, order.ID, order.Status)
	}
	if input.ActualDelivery.IsZero() {
		return CompletionResult{}, fmt.Errorf("%w: actual delivery date required", ErrValidation)
	}
	if input.InvoiceNumber != "" {
		exists, err := s.repo.InvoiceNumberExists(ctx, input.InvoiceNumber)
		if err != nil {
			return CompletionResult{}, fmt.Errorf("%w: invoice lookup: %v", ErrDependency, err)
		}
		if exists {
			return CompletionResult{}, fmt.Errorf("%w: invoice number %q already registered", ErrConflict, input.InvoiceNumber)
		}
	}

	receivedByProduct := make(map[int64]ReceivedLine, len(input.Received))
	for _, r := range input.Received {
		receivedByProduct[r.ProductID] = r
	}

	var (
		missing       []MissingItem
		receipts      []inventory.ReceiptItem
		receivedTotal int64
		receivedValue = decimal.Zero
	)
	for _, line := range lines {
		reported := receivedByProduct[line.ProductID]
		received := clampQty(reported.Qty, line.Qty)
		if missingQty := line.Qty - received; missingQty > 0 {
			missing = append(missing, MissingItem{
				OrderID:    order.ID,
				ProductID:  line.ProductID,
				MissingQty: missingQty,
				Reason:     defaultString(reported.Reason, "unspecified"),
			})
		}
		if received > 0 {
			receipts = append(receipts, inventory.ReceiptItem{ProductID: line.ProductID, Qty: received})
			receivedTotal += received
			receivedValue = receivedValue.Add(line.UnitPrice.Mul(decimal.NewFromInt(received)))
		}
	}

	key := fmt.Sprintf("PO-COMPLETE:%d:%d", order.ID, order.Version)
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "procurement.complete"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return CompletionResult{}, fmt.Errorf("%w: completion already in flight for order %d", ErrConflict, order.ID)
			}
			return CompletionResult{}, err
		}
		insertedKey = true
	}

	// Stock posting commits in its own transaction, so the ref has to be
	// stable across retries: the version only advances on success.
	ref := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("PO:%d:%d", order.ID, order.Version)))

	var (
		balances    []inventory.Record
		stockPosted bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.TransitionOrder(ctx, order.ID, OrderStatusPending, OrderStatusCompleted, order.Version); err != nil {
			return err
		}
		if err := tx.SetActualDelivery(ctx, order.ID, input.ActualDelivery); err != nil {
			return err
		}
		for _, item := range missing {
			if err := tx.InsertMissingItem(ctx, item); err != nil {
				return err
			}
		}
		if len(receipts) > 0 {
			updated, err := s.inventory.Receive(ctx, ref.String(), receipts)
			if err != nil {
				return err
			}
			balances = updated
			stockPosted = true
		}
		if input.InvoiceNumber != "" {
			inv := Invoice{
				OrderID:       order.ID,
				Number:        input.InvoiceNumber,
				ReceivedDate:  input.ActualDelivery,
				TotalReceived: receivedValue.Round(2),
			}
			if _, err := tx.CreateInvoice(ctx, inv); err != nil {
				return err
			}
		}
		if order.ConsolidationID > 0 {
			if err := tx.UpdateConsolidationStatus(ctx, order.ConsolidationID, ConsolidationStatusCompleted); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		// The stock posting survives the rollback. The ref-keyed dedupe
		// makes the retry safe, but the caller still learns it committed.
		var completed []string
		if stockPosted {
			completed = append(completed, "stock-posted")
		}
		return CompletionResult{}, workflowErr("complete", "persist-completion", completed, err)
	}

	order.Status = OrderStatusCompleted
	order.ActualDelivery = input.ActualDelivery
	order.Version++

	s.recordAudit(ctx, "PO_COMPLETE", order.ID, map[string]any{
		"received": receivedTotal,
		"missing":  len(missing),
		"ref":      ref.String(),
	})
	s.emit(ctx, notify.Event{
		Type:        notify.EventOrderCompleted,
		Title:       "Purchase order completed",
		Description: fmt.Sprintf("Order %d completed, %d units received, %d lines short", order.ID, receivedTotal, len(missing)),
		Meta:        map[string]any{"order_id": order.ID, "ref": ref.String()},
	})
	for _, balance := range balances {
		if balance.MinLevel > 0 && balance.Qty < balance.MinLevel {
			s.emit(ctx, notify.Event{
				Type:        notify.EventLowStock,
				Title:       "Stock below minimum",
				Description: fmt.Sprintf("Product %d holds %d units, below the minimum of %d", balance.ProductID, balance.Qty, balance.MinLevel),
				Meta:        map[string]any{"product_id": balance.ProductID},
			})
		}
	}
	return CompletionResult{Order: order, Missing: missing, ReceivedTotal: receivedTotal}, nil
}

// Annul cancels a pending or completed order. Inventory increments already
// posted by a completion are not reversed.
func (s *Service) Annul(ctx context.Context, orderID int64) error {
	order, _, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != OrderStatusPending && order.Status != OrderStatusCompleted {
		return fmt.Errorf("%w: order %d is %s", ErrInvalidState, orderID, order.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.TransitionOrder(ctx, orderID, order.Status, OrderStatusAnnulled, order.Version); err != nil {
			return err
		}
		if order.ConsolidationID > 0 {
			return tx.UpdateConsolidationStatus(ctx, order.ConsolidationID, ConsolidationStatusAnnulled)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PO_ANNUL", orderID, nil)
	s.emit(ctx, notify.Event{
		Type:        notify.EventOrderAnnulled,
		Title:       "Purchase order annulled",
		Description: fmt.Sprintf("Order %d was annulled", orderID),
		Meta:        map[string]any{"order_id": orderID},
	})
	return nil
}

// Reopen reverts an annulled order to pending and clears its delivery date.
func (s *Service) Reopen(ctx context.Context, orderID int64) error {
	order, _, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != OrderStatusAnnulled {
		return fmt.Errorf("%w: order %d is %s", ErrInvalidState, orderID, order.Status)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.TransitionOrder(ctx, orderID, OrderStatusAnnulled, OrderStatusPending, order.Version); err != nil {
			return err
		}
		return tx.ClearActualDelivery(ctx, orderID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PO_REOPEN", orderID, nil)
	s.emit(ctx, notify.Event{
		Type:        notify.EventOrderReopened,
		Title:       "Purchase order reopened",
		Description: fmt.Sprintf("Order %d returned to pending", orderID),
		Meta:        map[string]any{"order_id": orderID},
	})
	return nil
}

func clampQty(v, max int64) int64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
