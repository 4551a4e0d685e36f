package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
	"github.com/rl1809/warehouse-orders/internal/core/service"
	"github.com/rl1809/warehouse-orders/internal/port"
)

func newMockStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewMySQLStore(sqlx.NewDb(db, "mysql")), mock
}

var inventoryCols = []string{"product_id", "quantity", "min_quantity", "max_quantity", "location", "created_at", "updated_at"}

func TestMySQLStore_GetProducts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, sku, price FROM products WHERE id IN (?, ?)`)).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "sku", "price"}).
			AddRow(int64(1), "Widget", "W-1", "10.00"))
	mock.ExpectCommit()

	var products map[int64]domain.Product
	err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		var err error
		products, err = tx.GetProducts(ctx, []int64{1, 2})
		return err
	})
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "10.00", domain.FormatMoney(products[1].Price))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_LockInventory(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM inventory WHERE product_id = \? FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(inventoryCols).AddRow(int64(7), 5, 0, nil, "A1", now, now))
	mock.ExpectExec(`UPDATE inventory\s+SET quantity = \?, min_quantity = \?, max_quantity = \?, location = \?, updated_at = \?\s+WHERE product_id = \?`).
		WithArgs(2, 0, nil, "A1", sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		rec, err := tx.LockInventory(ctx, 7)
		if err != nil {
			return err
		}
		require.NotNil(t, rec)
		assert.Nil(t, rec.MaxQuantity)
		rec.Quantity -= 3
		rec.UpdatedAt = now
		return tx.UpdateInventory(ctx, *rec)
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_MissingInventoryIsNil(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM inventory WHERE product_id = \? FOR UPDATE`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		rec, err := tx.LockInventory(ctx, 9)
		assert.Nil(t, rec)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_LockConflictRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM inventory WHERE product_id = \? FOR UPDATE`).
		WithArgs(int64(1)).
		WillReturnError(&mysql.MySQLError{Number: mysqlErrLockWaitTimeout, Message: "Lock wait timeout exceeded"})
	mock.ExpectRollback()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		_, err := tx.LockInventory(ctx, 1)
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_CreateOrderAssignsIDs(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO orders`).WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectExec(`INSERT INTO order_items`).
		WithArgs(int64(11), int64(1), 3, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(21, 1))
	mock.ExpectExec(`INSERT INTO order_history`).
		WithArgs(int64(11), "Pending", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(31, 1))
	mock.ExpectCommit()

	order := &domain.Order{
		CustomerName:    "Ada",
		CustomerEmail:   "ada@example.com",
		ShippingAddress: "1 Main St",
		TotalPrice:      domain.MustMoney("30.00"),
		Status:          domain.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		Items: []domain.OrderItem{{
			ProductID: 1,
			Quantity:  3,
			UnitPrice: domain.MustMoney("10.00"),
			Subtotal:  domain.MustMoney("30.00"),
			CreatedAt: now,
		}},
	}
	entry := &domain.OrderHistoryEntry{Status: domain.OrderStatusPending, Note: "order placed", CreatedAt: now}

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		entry.OrderID = order.ID
		return tx.AppendHistory(ctx, entry)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), order.ID)
	assert.Equal(t, int64(21), order.Items[0].ID)
	assert.Equal(t, int64(11), order.Items[0].OrderID)
	assert.Equal(t, int64(31), entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_DuplicateInventoryIsRowExists(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO inventory`).
		WillReturnError(&mysql.MySQLError{Number: mysqlErrDuplicateEntry, Message: "Duplicate entry '4' for key 'PRIMARY'"})
	mock.ExpectRollback()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		return tx.CreateInventory(ctx, domain.InventoryRecord{ProductID: 4, Quantity: 2, CreatedAt: now, UpdatedAt: now})
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, port.ErrRowExists))
	assert.False(t, errors.Is(err, ErrLockConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

var orderCols = []string{"id", "customer_name", "customer_email", "shipping_address", "total_price", "status", "idempotency_key", "created_at", "updated_at"}
var itemCols = []string{"id", "order_id", "product_id", "quantity", "unit_price", "subtotal", "created_at"}

func TestMySQLStore_ListOrdersAttachesItems(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM orders\s+ORDER BY created_at DESC, id DESC\s+LIMIT \? OFFSET \?`).
		WithArgs(2, 0).
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow(int64(5), "Ada", "ada@example.com", "x", "20.00", "Pending", nil, now, now).
			AddRow(int64(4), "Bob", "bob@example.com", "y", "5.00", "Shipped", "key-4", now, now))
	mock.ExpectQuery(`SELECT .* FROM order_items WHERE order_id IN \(\?, \?\) ORDER BY order_id, id`).
		WithArgs(int64(5), int64(4)).
		WillReturnRows(sqlmock.NewRows(itemCols).
			AddRow(int64(8), int64(4), int64(1), 1, "5.00", "5.00", now).
			AddRow(int64(9), int64(5), int64(1), 2, "10.00", "20.00", now))
	mock.ExpectCommit()

	var orders []domain.Order
	err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		var err error
		orders, err = tx.ListOrders(ctx, domain.Page{Limit: 2})
		return err
	})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, int64(5), orders[0].ID)
	require.Len(t, orders[0].Items, 1)
	assert.Equal(t, 2, orders[0].Items[0].Quantity)
	assert.Equal(t, "key-4", orders[1].IdempotencyKey)
	require.Len(t, orders[1].Items, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_ListInventoryJoinsProducts(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM inventory i\s+JOIN products p ON p.id = i.product_id\s+ORDER BY i.updated_at DESC, i.product_id\s+LIMIT \? OFFSET \?`).
		WithArgs(10, 5).
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, inventoryCols...), "name", "sku", "price")).
			AddRow(int64(3), 7, 2, int64(50), nil, now, now, "Bolt", "B-3", "0.25"))
	mock.ExpectCommit()

	var levels []domain.StockLevel
	err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		var err error
		levels, err = tx.ListInventory(ctx, domain.Page{Limit: 10, Offset: 5})
		return err
	})
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, "B-3", levels[0].Product.SKU)
	assert.Equal(t, 7, levels[0].Record.Quantity)
	assert.Equal(t, 2, levels[0].Record.MinQuantity)
	require.NotNil(t, levels[0].Record.MaxQuantity)
	assert.Equal(t, 50, *levels[0].Record.MaxQuantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_OrderByIdempotencyKeyMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM orders WHERE idempotency_key = \?`).
		WithArgs("req-9").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error {
		order, err := tx.GetOrderByIdempotencyKey(ctx, "req-9")
		assert.Nil(t, order)
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLStore_CommitFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&mysql.MySQLError{Number: mysqlErrDeadlock, Message: "Deadlock found"})

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx port.Tx) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func getMySQLDB(t *testing.T) *sqlx.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/warehouse?parseTime=true"
	}

	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("MySQL not available: %v", err)
	}
	require.NoError(t, Migrate(db.DB, MigrateUp))
	t.Cleanup(func() { db.Close() })
	return db
}

func seedMySQLProduct(t *testing.T, db *sqlx.DB, price string, qty int) int64 {
	t.Helper()
	now := time.Now().UTC()
	res, err := db.Exec(`INSERT INTO products (name, sku, price) VALUES (?, ?, ?)`,
		"Widget", "W-"+uuid.NewString()[:8], price)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO inventory (product_id, quantity, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, qty, now, now)
	require.NoError(t, err)
	return id
}

func newMySQLOrderService(store port.Store) *service.OrderService {
	return service.NewOrderService(store,
		service.NewInventoryLedger(store),
		service.NewPricingResolver(),
		service.NewStatusWorkflow(store),
	)
}

func TestMySQLStore_PlaceOrderLive(t *testing.T) {
	db := getMySQLDB(t)
	store := NewMySQLStore(db)
	svc := newMySQLOrderService(store)
	productID := seedMySQLProduct(t, db, "10.00", 5)

	req := domain.PlaceOrderRequest{
		CustomerName:    "Ada",
		CustomerEmail:   "ada@example.com",
		ShippingAddress: "1 Main St",
		Items:           []domain.OrderLine{{ProductID: productID, Quantity: 3}},
	}
	order, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "30.00", domain.FormatMoney(order.TotalPrice))

	_, err = svc.PlaceOrder(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	rec, err := svc.Inventory(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Quantity)

	history, err := svc.History(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.OrderStatusPending, history[0].Status)
}

func TestMySQLStore_ConcurrentPlacementLive(t *testing.T) {
	db := getMySQLDB(t)
	store := NewMySQLStore(db)
	svc := newMySQLOrderService(store)

	const stock, qty, workers = 10, 3, 8
	productID := seedMySQLProduct(t, db, "1.50", stock)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PlaceOrder(context.Background(), domain.PlaceOrderRequest{
				CustomerName:    "Load",
				CustomerEmail:   "load@example.com",
				ShippingAddress: "Dock 4",
				Items:           []domain.OrderLine{{ProductID: productID, Quantity: qty}},
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, stock/qty, succeeded)
	rec, err := svc.Inventory(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, stock%qty, rec.Quantity)
}
