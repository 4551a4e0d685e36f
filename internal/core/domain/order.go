package domain

import (
	"fmt"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusShipped   OrderStatus = "Shipped"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// InitialOrderStatus is the status every order is created in.
const InitialOrderStatus = OrderStatusPending

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   nil,
	OrderStatusCancelled: nil,
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	for status := range orderTransitions {
		if strings.EqualFold(string(status), strings.TrimSpace(s)) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Order struct {
	ID              int64
	CustomerName    string
	CustomerEmail   string
	ShippingAddress string
	TotalPrice      Money
	Status          OrderStatus
	Items           []OrderItem
	IdempotencyKey  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem holds the unit price captured when the order was placed.
type OrderItem struct {
	ID        int64
	OrderID   int64
	ProductID int64
	Quantity  int
	UnitPrice Money
	Subtotal  Money
	CreatedAt time.Time
}

type OrderHistoryEntry struct {
	ID        int64
	OrderID   int64
	Status    OrderStatus
	Note      string
	CreatedAt time.Time
}

type OrderLine struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Quantity  int   `json:"quantity" validate:"gte=1,lte=2147483647"`
}

type PlaceOrderRequest struct {
	CustomerName    string      `json:"customer_name" validate:"required"`
	CustomerEmail   string      `json:"customer_email" validate:"required,email"`
	ShippingAddress string      `json:"shipping_address" validate:"required"`
	Items           []OrderLine `json:"items" validate:"required,min=1,dive"`
	IdempotencyKey  string      `json:"idempotency_key,omitempty"`
}
