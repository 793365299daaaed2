package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Purchase request lifecycle statuses.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "PENDING"
	RequestStatusApproved RequestStatus = "APPROVED"
	RequestStatusRejected RequestStatus = "REJECTED"
)

// Consolidated order lifecycle statuses.
type ConsolidationStatus string

const (
	ConsolidationStatusPending   ConsolidationStatus = "PENDING"
	ConsolidationStatusProcessed ConsolidationStatus = "PROCESSED"
	ConsolidationStatusCompleted ConsolidationStatus = "COMPLETED"
	ConsolidationStatusAnnulled  ConsolidationStatus = "ANNULLED"
)

// Purchase order lifecycle statuses.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusAnnulled  OrderStatus = "ANNULLED"
)

// PurchaseRequest domain model. Lines are immutable after creation; only
// the status changes when an order resolves the request.
type PurchaseRequest struct {
	ID          int64         `json:"id"`
	Description string        `json:"description"`
	Status      RequestStatus `json:"status"`
	RequesterID int64         `json:"requester_id"`
	Department  string        `json:"department"`
	CreatedAt   time.Time     `json:"created_at"`
}

// RequestLine represents one requested product.
type RequestLine struct {
	ID        int64 `json:"id"`
	RequestID int64 `json:"request_id"`
	ProductID int64 `json:"product_id"`
	Qty       int64 `json:"qty"`
}

// ConsolidatedOrder groups line items of several pending requests for one
// supplier. Read-only once created except for status and deletion.
type ConsolidatedOrder struct {
	ID         int64               `json:"id"`
	SupplierID int64               `json:"supplier_id"`
	Status     ConsolidationStatus `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
}

// ConsolidatedLine is a per-product aggregate across the selected requests.
type ConsolidatedLine struct {
	ID              int64   `json:"id"`
	ConsolidationID int64   `json:"consolidation_id"`
	ProductID       int64   `json:"product_id"`
	Description     string  `json:"description"`
	Qty             int64   `json:"qty"`
	RequestIDs      []int64 `json:"request_ids"`
}

// PurchaseOrder domain model. The financial fields always equal the pricing
// calculator's output over the current lines and withholding percent.
type PurchaseOrder struct {
	ID                 int64           `json:"id"`
	RequestID          int64           `json:"request_id,omitempty"`
	ConsolidationID    int64           `json:"consolidation_id,omitempty"`
	SupplierID         int64           `json:"supplier_id"`
	Status             OrderStatus     `json:"status"`
	Currency           string          `json:"currency"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	Tax                decimal.Decimal `json:"tax"`
	Withholding        decimal.Decimal `json:"withholding"`
	NetPayable         decimal.Decimal `json:"net_payable"`
	WithholdingPercent decimal.Decimal `json:"withholding_percent"`
	TaxRate            decimal.Decimal `json:"tax_rate"`
	EstimatedDelivery  time.Time       `json:"estimated_delivery"`
	ActualDelivery     time.Time       `json:"actual_delivery"`
	Notes              string          `json:"notes,omitempty"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
}

// OrderLine is a priced line of a purchase order.
type OrderLine struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Qty       int64           `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// DeferredItem records a requested product excluded from the order that
// resolved its request.
type DeferredItem struct {
	ID        int64  `json:"id"`
	OrderID   int64  `json:"order_id"`
	ProductID int64  `json:"product_id"`
	Qty       int64  `json:"qty"`
	Reason    string `json:"reason"`
	RequestID int64  `json:"request_id,omitempty"`
}

// MissingItem records an ordered product not fully received at fulfillment.
// At most one exists per (order, product).
type MissingItem struct {
	ID         int64  `json:"id"`
	OrderID    int64  `json:"order_id"`
	ProductID  int64  `json:"product_id"`
	MissingQty int64  `json:"missing_qty"`
	Reason     string `json:"reason"`
}

// Invoice references the supplier invoice registered during fulfillment.
// Number is unique system-wide, enforced by the storage layer.
type Invoice struct {
	ID            int64           `json:"id"`
	OrderID       int64           `json:"order_id"`
	Number        string          `json:"number"`
	ReceivedDate  time.Time       `json:"received_date"`
	TotalReceived decimal.Decimal `json:"total_received"`
}

var (
	// ErrValidation indicates invalid input; callers must fix the request.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("procurement: not found")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("procurement: invalid state transition")
	// ErrConflict indicates a uniqueness or concurrent-update violation.
	ErrConflict = errors.New("procurement: conflict")
	// ErrDependency indicates a persistence or downstream call failed.
	ErrDependency = errors.New("procurement: dependency failure")
)

// WorkflowError carries the progress of a multi-write workflow so callers
// know which steps committed before the failure.
type WorkflowError struct {
	Op        string
	Step      string
	Completed []string
	Err       error
}

func (e *WorkflowError) Error() string {
	return "procurement: " + e.Op + ": step " + e.Step + ": " + e.Err.Error()
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func workflowErr(op, step string, completed []string, err error) error {
	return &WorkflowError{Op: op, Step: step, Completed: completed, Err: err}
}
