package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acopio-erp/acopio-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRecord(ctx context.Context, productID int64) (Record, error)
	ListBelowMinimum(ctx context.Context) ([]Record, error)
}

// TxRepository exposes transactional stock operations.
type TxRepository interface {
	InsertReceiptRef(ctx context.Context, ref string) error
	GetRecordForUpdate(ctx context.Context, productID int64) (Record, error)
	UpsertRecord(ctx context.Context, record Record) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// DefaultLocation is assigned to records created on first receipt.
	DefaultLocation string
}

// Service coordinates stock mutations.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	cfg   ServiceConfig
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	if cfg.DefaultLocation == "" {
		cfg.DefaultLocation = "MAIN"
	}
	return &Service{repo: repo, audit: audit, cfg: cfg}
}

// Receive increments stock on hand for every item within one transaction,
// creating absent records with the default location. The ref dedupes
// replays: posting the same ref again leaves quantities untouched and
// returns the current balances. Returns the updated records so callers can
// check minimum levels.
func (s *Service) Receive(ctx context.Context, ref string, items []ReceiptItem) ([]Record, error) {
	if ref == "" {
		return nil, errors.New("inventory: receipt ref required")
	}
	if len(items) == 0 {
		return nil, nil
	}
	for _, item := range items {
		if item.ProductID <= 0 {
			return nil, errors.New("inventory: product required")
		}
		if item.Qty <= 0 {
			return nil, ErrInvalidQuantity
		}
	}
	now := time.Now().UTC()
	applied := false
	updated := make([]Record, 0, len(items))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertReceiptRef(ctx, ref); err != nil {
			if errors.Is(err, ErrDuplicateReceipt) {
				for _, item := range items {
					record, err := tx.GetRecordForUpdate(ctx, item.ProductID)
					if err != nil {
						return err
					}
					updated = append(updated, record)
				}
				return nil
			}
			return err
		}
		applied = true
		for _, item := range items {
			record, err := tx.GetRecordForUpdate(ctx, item.ProductID)
			if err != nil && !errors.Is(err, ErrRecordNotFound) {
				return err
			}
			if errors.Is(err, ErrRecordNotFound) {
				record = Record{ProductID: item.ProductID, Location: s.cfg.DefaultLocation}
			}
			record.Qty += item.Qty
			record.UpdatedAt = now
			if err := tx.UpsertRecord(ctx, record); err != nil {
				return err
			}
			updated = append(updated, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if applied && s.audit != nil {
		for _, record := range updated {
			_ = s.audit.Record(ctx, shared.AuditLog{
				Action:   "STOCK_RECEIVE",
				Entity:   "inventory_record",
				EntityID: fmt.Sprintf("%d", record.ProductID),
				Meta:     map[string]any{"qty_on_hand": record.Qty, "location": record.Location},
			})
		}
	}
	return updated, nil
}

// GetRecord fetches the stock record for one product.
func (s *Service) GetRecord(ctx context.Context, productID int64) (Record, error) {
	if productID <= 0 {
		return Record{}, errors.New("inventory: product required")
	}
	return s.repo.GetRecord(ctx, productID)
}

// ListBelowMinimum returns records holding less than their minimum level.
func (s *Service) ListBelowMinimum(ctx context.Context) ([]Record, error) {
	return s.repo.ListBelowMinimum(ctx)
}
