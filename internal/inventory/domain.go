package inventory

import (
	"errors"
	"time"
)

// Record summarises stock on hand for one product. Products are unique per
// record; only fulfillment reconciliation mutates the quantity.
type Record struct {
	ProductID int64     `json:"product_id"`
	Qty       int64     `json:"qty"`
	Location  string    `json:"location"`
	MinLevel  int64     `json:"min_level"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReceiptItem is one received quantity to post into stock.
type ReceiptItem struct {
	ProductID int64
	Qty       int64
}

var (
	// ErrInvalidQuantity indicates a non-positive receipt quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrRecordNotFound indicates no stock record exists for the product.
	ErrRecordNotFound = errors.New("inventory: record not found")
	// ErrDuplicateReceipt indicates the receipt ref was already applied.
	ErrDuplicateReceipt = errors.New("inventory: receipt already applied")
)
