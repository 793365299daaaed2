package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/acopio-erp/acopio-erp/internal/inventory"
	"github.com/acopio-erp/acopio-erp/internal/masterdata/products"
	"github.com/acopio-erp/acopio-erp/internal/notify"
	"github.com/acopio-erp/acopio-erp/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequest(ctx context.Context, id int64) (PurchaseRequest, []RequestLine, error)
	ListPendingRequests(ctx context.Context, categoryID int64) ([]PurchaseRequest, error)
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, []OrderLine, error)
	GetConsolidation(ctx context.Context, id int64) (ConsolidatedOrder, []ConsolidatedLine, error)
	InvoiceNumberExists(ctx context.Context, number string) (bool, error)
}

// TxRepository exposes the transactional write operations.
type TxRepository interface {
	CreateConsolidation(ctx context.Context, co ConsolidatedOrder) (int64, error)
	InsertConsolidatedLine(ctx context.Context, line ConsolidatedLine) error
	UpdateConsolidationStatus(ctx context.Context, id int64, status ConsolidationStatus) error
	DeleteConsolidation(ctx context.Context, id int64) error
	CreateOrder(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertOrderLine(ctx context.Context, line OrderLine) error
	TransitionOrder(ctx context.Context, id int64, from, to OrderStatus, version int64) error
	SetActualDelivery(ctx context.Context, id int64, at time.Time) error
	ClearActualDelivery(ctx context.Context, id int64) error
	InsertDeferredItem(ctx context.Context, item DeferredItem) error
	InsertMissingItem(ctx context.Context, item MissingItem) error
	CreateInvoice(ctx context.Context, inv Invoice) (int64, error)
	UpdateRequestStatus(ctx context.Context, id int64, status RequestStatus) error
	LinkRequestToOrder(ctx context.Context, orderID, requestID int64) error
}

// ProductPort exposes the master-data operations order assembly needs:
// resolving descriptions and the two-phase creation of new products.
type ProductPort interface {
	Get(ctx context.Context, id int64) (products.Product, error)
	Create(ctx context.Context, product products.Product) (products.Product, error)
	Delete(ctx context.Context, id int64) error
}

// InventoryPort posts received quantities into stock. The ref keys the
// receipt so a replay after a partial failure cannot double-post.
type InventoryPort interface {
	Receive(ctx context.Context, ref string, items []inventory.ReceiptItem) ([]inventory.Record, error)
}

// TaxRatePort resolves the tax rate effective at order time.
type TaxRatePort interface {
	Effective(ctx context.Context) (decimal.Decimal, error)
}

// NotifierPort dispatches fire-and-forget notifications. Failures are
// logged by the service and never surface to callers.
type NotifierPort interface {
	Notify(ctx context.Context, evt notify.Event) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups engine tunables.
type ServiceConfig struct {
	// DefaultCurrency tags orders created without an explicit unit.
	DefaultCurrency string
	// LargeOrderThreshold triggers an extra alert when net payable exceeds it.
	LargeOrderThreshold decimal.Decimal
}

// Service orchestrates consolidation, order assembly and fulfillment.
type Service struct {
	repo        RepositoryPort
	products    ProductPort
	inventory   InventoryPort
	taxRates    TaxRatePort
	notifier    NotifierPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	logger      *slog.Logger
	cfg         ServiceConfig
}

// NewService constructs the procurement service.
func NewService(repo RepositoryPort, products ProductPort, inv InventoryPort, taxRates TaxRatePort, notifier NotifierPort, audit AuditPort, idem *shared.IdempotencyStore, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "Bs"
	}
	return &Service{
		repo:        repo,
		products:    products,
		inventory:   inv,
		taxRates:    taxRates,
		notifier:    notifier,
		audit:       audit,
		idempotency: idem,
		logger:      logger,
		cfg:         cfg,
	}
}

// GetOrder fetches an order with its lines.
func (s *Service) GetOrder(ctx context.Context, id int64) (PurchaseOrder, []OrderLine, error) {
	return s.repo.GetOrder(ctx, id)
}

// GetConsolidation fetches a consolidated order with its aggregated lines.
func (s *Service) GetConsolidation(ctx context.Context, id int64) (ConsolidatedOrder, []ConsolidatedLine, error) {
	return s.repo.GetConsolidation(ctx, id)
}

// emit sends a notification without ever failing the calling workflow.
func (s *Service) emit(ctx context.Context, evt notify.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, evt); err != nil {
		s.logger.Warn("notification dispatch failed",
			slog.String("type", string(evt.Type)),
			slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "procurement", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
