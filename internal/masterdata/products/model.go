package products

import (
	"errors"
	"time"
)

// Product represents a product entity. Category and supplier reference data
// are maintained elsewhere; only the ids are carried here.
type Product struct {
	ID         int64     `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	CategoryID int64     `json:"category_id"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrNotFound indicates the product does not exist.
var ErrNotFound = errors.New("products: not found")
