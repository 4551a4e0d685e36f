package handler

import (
	"time"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
)

// Wire types shared by the HTTP and gRPC adapters. Money is rendered as a
// fixed two-decimal string.

type OrderItemResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type OrderResponse struct {
	ID              int64               `json:"id"`
	CustomerName    string              `json:"customer_name"`
	CustomerEmail   string              `json:"customer_email"`
	ShippingAddress string              `json:"shipping_address"`
	TotalPrice      string              `json:"total_price"`
	Status          string              `json:"status"`
	Items           []OrderItemResponse `json:"items"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type HistoryEntryResponse struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type HistoryResponse struct {
	OrderID int64                  `json:"order_id"`
	Entries []HistoryEntryResponse `json:"entries"`
}

type InventoryResponse struct {
	ProductID   int64     `json:"product_id"`
	Quantity    int       `json:"quantity"`
	MinQuantity int       `json:"min_quantity"`
	MaxQuantity *int      `json:"max_quantity,omitempty"`
	Location    string    `json:"location,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type StockLevelResponse struct {
	InventoryResponse
	ProductName string `json:"product_name"`
	SKU         string `json:"sku"`
	Price       string `json:"price"`
}

type InventoryListResponse struct {
	Items  []StockLevelResponse `json:"items"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type ChangeStatusRequest struct {
	OrderID int64  `json:"order_id,omitempty"`
	Status  string `json:"status"`
	Note    string `json:"note,omitempty"`
}

type OrderIDRequest struct {
	OrderID int64 `json:"order_id"`
}

type ListRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type ErrorResponse struct {
	Error      string              `json:"error"`
	Code       string              `json:"code"`
	Fields     []domain.FieldError `json:"fields,omitempty"`
	ProductIDs []int64             `json:"product_ids,omitempty"`
	ProductID  int64               `json:"product_id,omitempty"`
	Requested  *int                `json:"requested,omitempty"`
	Available  *int                `json:"available,omitempty"`
	From       string              `json:"from,omitempty"`
	To         string              `json:"to,omitempty"`
}

func toOrderResponse(o *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:              o.ID,
		CustomerName:    o.CustomerName,
		CustomerEmail:   o.CustomerEmail,
		ShippingAddress: o.ShippingAddress,
		TotalPrice:      domain.FormatMoney(o.TotalPrice),
		Status:          string(o.Status),
		Items:           make([]OrderItemResponse, 0, len(o.Items)),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: domain.FormatMoney(item.UnitPrice),
			Subtotal:  domain.FormatMoney(item.Subtotal),
		})
	}
	return resp
}

func toHistoryResponse(orderID int64, entries []domain.OrderHistoryEntry) HistoryResponse {
	resp := HistoryResponse{OrderID: orderID, Entries: make([]HistoryEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, HistoryEntryResponse{
			ID:        e.ID,
			Status:    string(e.Status),
			Note:      e.Note,
			CreatedAt: e.CreatedAt,
		})
	}
	return resp
}

func toInventoryResponse(r *domain.InventoryRecord) InventoryResponse {
	return InventoryResponse{
		ProductID:   r.ProductID,
		Quantity:    r.Quantity,
		MinQuantity: r.MinQuantity,
		MaxQuantity: r.MaxQuantity,
		Location:    r.Location,
		UpdatedAt:   r.UpdatedAt,
	}
}

func toOrderListResponse(orders []domain.Order, page domain.Page) OrderListResponse {
	resp := OrderListResponse{Orders: make([]OrderResponse, 0, len(orders)), Limit: effectiveLimit(page), Offset: page.Offset}
	for i := range orders {
		resp.Orders = append(resp.Orders, toOrderResponse(&orders[i]))
	}
	return resp
}

func toInventoryListResponse(levels []domain.StockLevel, page domain.Page) InventoryListResponse {
	resp := InventoryListResponse{Items: make([]StockLevelResponse, 0, len(levels)), Limit: effectiveLimit(page), Offset: page.Offset}
	for i := range levels {
		resp.Items = append(resp.Items, StockLevelResponse{
			InventoryResponse: toInventoryResponse(&levels[i].Record),
			ProductName:       levels[i].Product.Name,
			SKU:               levels[i].Product.SKU,
			Price:             domain.FormatMoney(levels[i].Product.Price),
		})
	}
	return resp
}

func effectiveLimit(page domain.Page) int {
	if page.Limit == 0 {
		return domain.DefaultPageLimit
	}
	return page.Limit
}

// parseStatus turns the wire status into the closed enumeration.
func parseStatus(raw string) (domain.OrderStatus, error) {
	status, err := domain.ParseOrderStatus(raw)
	if err != nil {
		verr := &domain.ValidationError{}
		verr.Add("status", "must be one of Pending, Shipped, Cancelled")
		return "", verr
	}
	return status, nil
}
