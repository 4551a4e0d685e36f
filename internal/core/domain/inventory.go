package domain

import (
	"math"
	"time"
)

// MaxStockQuantity is the largest quantity an inventory row can hold.
const MaxStockQuantity = math.MaxInt32

type Product struct {
	ID    int64
	Name  string
	SKU   string
	Price Money
}

// InventoryRecord is the stock row of a single product. Quantity never goes
// below zero.
type InventoryRecord struct {
	ProductID   int64
	Quantity    int
	MinQuantity int
	MaxQuantity *int
	Location    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Available reports whether quantity units can be reserved.
func (r InventoryRecord) Available(quantity int) bool {
	return r.Quantity >= quantity
}

type InventoryAdjustment struct {
	ID            int64
	ProductID     int64
	Delta         int
	Reason        string
	QuantityAfter int
	CreatedAt     time.Time
}

type AdjustInventoryRequest struct {
	ProductID int64   `json:"product_id" validate:"gt=0"`
	Delta     int     `json:"delta" validate:"gte=-2147483647,lte=2147483647"`
	Reason    string  `json:"reason" validate:"required"`
	Location  *string `json:"location,omitempty"`
}

// InventorySettingsRequest replaces the stock thresholds of a product. A nil
// Location keeps the current one.
type InventorySettingsRequest struct {
	ProductID   int64   `json:"product_id" validate:"gt=0"`
	MinQuantity int     `json:"min_quantity" validate:"gte=0,lte=2147483647"`
	MaxQuantity *int    `json:"max_quantity,omitempty" validate:"omitempty,gte=0,lte=2147483647"`
	Location    *string `json:"location,omitempty"`
}

// StockLevel is an inventory record together with its product.
type StockLevel struct {
	Product Product
	Record  InventoryRecord
}

const DefaultPageLimit = 50

// Page bounds a listing. A zero Limit means DefaultPageLimit.
type Page struct {
	Limit  int `json:"limit" validate:"gte=0,lte=200"`
	Offset int `json:"offset" validate:"gte=0"`
}
