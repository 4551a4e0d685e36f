package domain

import (
	"strconv"
	"time"
)

type EventType string

const (
	EventOrderPlaced        EventType = "order.placed"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventInventoryAdjusted  EventType = "inventory.adjusted"
)

// Event is emitted after the transaction that produced it has committed.
type Event struct {
	Type       EventType   `json:"type"`
	OrderID    int64       `json:"order_id,omitempty"`
	ProductID  int64       `json:"product_id,omitempty"`
	Status     OrderStatus `json:"status,omitempty"`
	Total      string      `json:"total,omitempty"`
	Delta      int         `json:"delta,omitempty"`
	Quantity   int         `json:"quantity,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Key is the partitioning key for the event.
func (e Event) Key() string {
	if e.OrderID != 0 {
		return "order-" + strconv.FormatInt(e.OrderID, 10)
	}
	return "product-" + strconv.FormatInt(e.ProductID, 10)
}
