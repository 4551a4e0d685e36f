package port

import (
	"context"
	"errors"
	"time"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
)

// ErrRowExists is returned by a create for a key another transaction has
// already inserted. Retrying the whole transaction observes the committed row.
var ErrRowExists = errors.New("row already exists")

// Store opens transactions against the durable store.
type Store interface {
	// RunInTx runs fn in one READ COMMITTED transaction. A non-nil error from
	// fn, or a cancelled ctx, rolls everything back.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	ProductReader
	InventoryRepository
	OrderRepository
}

type ProductReader interface {
	// GetProducts returns the products that exist among ids, keyed by ID.
	GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
}

type InventoryRepository interface {
	// LockInventory reads the inventory row with a row lock held until the
	// transaction ends. It returns nil when the row does not exist.
	LockInventory(ctx context.Context, productID int64) (*domain.InventoryRecord, error)

	CreateInventory(ctx context.Context, record domain.InventoryRecord) error

	// UpdateInventory writes quantity, thresholds and location of a row
	// previously locked in the same transaction.
	UpdateInventory(ctx context.Context, record domain.InventoryRecord) error

	AppendAdjustment(ctx context.Context, adjustment *domain.InventoryAdjustment) error

	GetInventory(ctx context.Context, productID int64) (*domain.InventoryRecord, error)

	// ListInventory returns stock joined with products, most recently
	// updated first.
	ListInventory(ctx context.Context, page domain.Page) ([]domain.StockLevel, error)
}

type OrderRepository interface {
	// CreateOrder inserts the order and its items, assigning their IDs.
	CreateOrder(ctx context.Context, order *domain.Order) error

	// LockOrder reads the order row (without items) under a row lock.
	LockOrder(ctx context.Context, orderID int64) (*domain.Order, error)

	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)

	// GetOrderByIdempotencyKey returns nil when no order carries key.
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)

	// ListOrders returns orders with their items, newest first.
	ListOrders(ctx context.Context, page domain.Page) ([]domain.Order, error)

	UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus, at time.Time) error

	AppendHistory(ctx context.Context, entry *domain.OrderHistoryEntry) error

	// ListHistory returns entries in creation order.
	ListHistory(ctx context.Context, orderID int64) ([]domain.OrderHistoryEntry, error)
}
