package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/acopio-erp/acopio-erp/internal/masterdata/products"
	"github.com/acopio-erp/acopio-erp/internal/notify"
)

// NewProductSpec describes a product that does not exist yet. Assembly
// creates it before the order so its id can be bound to the line.
type NewProductSpec struct {
	Name       string
	CategoryID int64
}

// CandidateLine is one line offered to order assembly. Exactly one of
// ProductID or NewProduct identifies the product. Non-included lines become
// deferred items when the order originates from requests.
type CandidateLine struct {
	ProductID      int64
	NewProduct     *NewProductSpec
	Qty            int64
	UnitPrice      decimal.Decimal
	Included       bool
	DeferralReason string
}

// AssembleInput carries everything needed to build a purchase order.
type AssembleInput struct {
	SupplierID         int64
	Currency           string
	WithholdingPercent decimal.Decimal
	EstimatedDelivery  time.Time
	Notes              string
	ConsolidationID    int64
	RequestIDs         []int64
	Lines              []CandidateLine
}

// Assemble turns the selected candidate lines into a persisted purchase
// order. Validation happens strictly before any write. Product creation is
// a separate phase from order creation; products created for an order that
// subsequently fails to persist are deleted again as compensation.
func (s *Service) Assemble(ctx context.Context, input AssembleInput) (PurchaseOrder, error) {
	if err := validateAssembleInput(input); err != nil {
		return PurchaseOrder{}, err
	}
	taxRate, err := s.taxRates.Effective(ctx)
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("%w: resolve tax rate: %v", ErrDependency, err)
	}

	// Phase one: create products for new-product specs and bind their ids.
	var createdProducts []int64
	for i := range input.Lines {
		line := &input.Lines[i]
		if line.NewProduct == nil {
			continue
		}
		created, err := s.products.Create(ctx, products.Product{
			Code:       generateNumber("PRD"),
			Name:       line.NewProduct.Name,
			CategoryID: line.NewProduct.CategoryID,
			IsActive:   true,
		})
		if err != nil {
			s.compensateProducts(ctx, createdProducts)
			return PurchaseOrder{}, workflowErr("assemble", "create-product", nil, err)
		}
		createdProducts = append(createdProducts, created.ID)
		line.ProductID = created.ID
	}

	priced := make([]PricedLine, 0, len(input.Lines))
	for _, line := range input.Lines {
		priced = append(priced, PricedLine{Qty: line.Qty, UnitPrice: line.UnitPrice, Included: line.Included})
	}
	totals, err := Price(priced, taxRate, input.WithholdingPercent)
	if err != nil {
		s.compensateProducts(ctx, createdProducts)
		return PurchaseOrder{}, err
	}

	po := PurchaseOrder{
		SupplierID:         input.SupplierID,
		ConsolidationID:    input.ConsolidationID,
		Status:             OrderStatusPending,
		Currency:           defaultString(input.Currency, s.cfg.DefaultCurrency),
		Subtotal:           totals.Subtotal,
		Tax:                totals.Tax,
		Withholding:        totals.Withholding,
		NetPayable:         totals.Net,
		WithholdingPercent: input.WithholdingPercent,
		TaxRate:            taxRate,
		EstimatedDelivery:  input.EstimatedDelivery,
		Notes:              input.Notes,
		Version:            1,
	}
	if len(input.RequestIDs) == 1 {
		po.RequestID = input.RequestIDs[0]
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		orderID, err := tx.CreateOrder(ctx, po)
		if err != nil {
			return err
		}
		po.ID = orderID
		for _, line := range input.Lines {
			if !line.Included {
				continue
			}
			if err := tx.InsertOrderLine(ctx, OrderLine{OrderID: orderID, ProductID: line.ProductID, Qty: line.Qty, UnitPrice: line.UnitPrice}); err != nil {
				return err
			}
		}
		// Deferred lines are tracked only for orders built from requests.
		if len(input.RequestIDs) > 0 {
			originID := input.RequestIDs[0]
			for _, line := range input.Lines {
				if line.Included {
					continue
				}
				item := DeferredItem{
					OrderID:   orderID,
					ProductID: line.ProductID,
					Qty:       line.Qty,
					Reason:    defaultString(line.DeferralReason, "unspecified"),
					RequestID: originID,
				}
				if err := tx.InsertDeferredItem(ctx, item); err != nil {
					return err
				}
			}
		}
		for _, requestID := range input.RequestIDs {
			if err := tx.LinkRequestToOrder(ctx, orderID, requestID); err != nil {
				return err
			}
			if err := tx.UpdateRequestStatus(ctx, requestID, RequestStatusApproved); err != nil {
				return err
			}
		}
		if input.ConsolidationID > 0 {
			if err := tx.UpdateConsolidationStatus(ctx, input.ConsolidationID, ConsolidationStatusProcessed); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.compensateProducts(ctx, createdProducts)
		return PurchaseOrder{}, workflowErr("assemble", "persist-order", completedSteps(createdProducts), err)
	}

	s.recordAudit(ctx, "PO_ASSEMBLE", po.ID, map[string]any{
		"supplier_id": po.SupplierID,
		"net":         po.NetPayable.String(),
		"requests":    input.RequestIDs,
	})
	s.emit(ctx, notify.Event{
		Type:        notify.EventOrderCreated,
		Title:       "Purchase order created",
		Description: fmt.Sprintf("Order %d for supplier %d, net %s %s", po.ID, po.SupplierID, po.NetPayable, po.Currency),
		Meta:        map[string]any{"order_id": po.ID},
	})
	if !s.cfg.LargeOrderThreshold.IsZero() && po.NetPayable.GreaterThan(s.cfg.LargeOrderThreshold) {
		s.emit(ctx, notify.Event{
			Type:        notify.EventLargeOrder,
			Title:       "Large purchase order",
			Description: fmt.Sprintf("Order %d net payable %s %s exceeds the alert threshold", po.ID, po.NetPayable, po.Currency),
			Meta:        map[string]any{"order_id": po.ID},
		})
	}
	return po, nil
}

func validateAssembleInput(input AssembleInput) error {
	if input.SupplierID <= 0 {
		return fmt.Errorf("%w: supplier required", ErrValidation)
	}
	if len(input.Lines) == 0 {
		return fmt.Errorf("%w: at least one line required", ErrValidation)
	}
	included := 0
	for i, line := range input.Lines {
		if line.ProductID <= 0 && line.NewProduct == nil {
			return fmt.Errorf("%w: line %d references no product", ErrValidation, i)
		}
		if line.NewProduct != nil {
			if line.NewProduct.Name == "" || line.NewProduct.CategoryID <= 0 {
				return fmt.Errorf("%w: line %d has malformed new-product spec", ErrValidation, i)
			}
		}
		if line.Included {
			included++
			if line.Qty <= 0 {
				return fmt.Errorf("%w: line %d quantity must be positive", ErrValidation, i)
			}
			if line.UnitPrice.IsNegative() {
				return fmt.Errorf("%w: line %d unit price must not be negative", ErrValidation, i)
			}
		}
	}
	if included == 0 {
		return fmt.Errorf("%w: no line selected for inclusion", ErrValidation)
	}
	return nil
}

// compensateProducts deletes products created for an order that never got
// persisted. Failures are logged; the orphan then needs manual cleanup.
func (s *Service) compensateProducts(ctx context.Context, ids []int64) {
	for _, id := range ids {
		if err := s.products.Delete(ctx, id); err != nil {
			s.logger.Error("orphan product cleanup failed",
				slog.Int64("product_id", id),
				slog.Any("error", err))
		}
	}
}

func completedSteps(createdProducts []int64) []string {
	if len(createdProducts) == 0 {
		return nil
	}
	return []string{"create-product"}
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
