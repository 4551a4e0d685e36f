package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
	"github.com/rl1809/warehouse-orders/internal/port"
)

// ErrLockConflict marks lock wait timeouts and deadlocks reported by MySQL.
var ErrLockConflict = errors.New("lock conflict")

const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

type MySQLStore struct {
	db *sqlx.DB
}

func NewMySQLStore(db *sqlx.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (m *MySQLStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := m.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(classifyMySQL(err), "begin tx")
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(classifyMySQL(err), "commit")
	}
	return nil
}

func classifyMySQL(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlErrLockWaitTimeout, mysqlErrDeadlock:
			return errors.Wrap(ErrLockConflict, myErr.Message)
		case mysqlErrDuplicateEntry:
			// FOR UPDATE takes no gap lock under READ COMMITTED, so two
			// transactions can both miss a row and race to insert it.
			return errors.Wrap(port.ErrRowExists, myErr.Message)
		}
	}
	return err
}

type mysqlTx struct {
	tx *sqlx.Tx
}

type productRow struct {
	ID    int64        `db:"id"`
	Name  string       `db:"name"`
	SKU   string       `db:"sku"`
	Price domain.Money `db:"price"`
}

type inventoryRow struct {
	ProductID   int64          `db:"product_id"`
	Quantity    int            `db:"quantity"`
	MinQuantity int            `db:"min_quantity"`
	MaxQuantity sql.NullInt64  `db:"max_quantity"`
	Location    sql.NullString `db:"location"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r inventoryRow) toDomain() *domain.InventoryRecord {
	rec := &domain.InventoryRecord{
		ProductID:   r.ProductID,
		Quantity:    r.Quantity,
		MinQuantity: r.MinQuantity,
		Location:    r.Location.String,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.MaxQuantity.Valid {
		maxQty := int(r.MaxQuantity.Int64)
		rec.MaxQuantity = &maxQty
	}
	return rec
}

type orderRow struct {
	ID              int64          `db:"id"`
	CustomerName    string         `db:"customer_name"`
	CustomerEmail   string         `db:"customer_email"`
	ShippingAddress string         `db:"shipping_address"`
	TotalPrice      domain.Money   `db:"total_price"`
	Status          string         `db:"status"`
	IdempotencyKey  sql.NullString `db:"idempotency_key"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r orderRow) toDomain() *domain.Order {
	return &domain.Order{
		ID:              r.ID,
		CustomerName:    r.CustomerName,
		CustomerEmail:   r.CustomerEmail,
		ShippingAddress: r.ShippingAddress,
		TotalPrice:      r.TotalPrice,
		Status:          domain.OrderStatus(r.Status),
		IdempotencyKey:  r.IdempotencyKey.String,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type orderItemRow struct {
	ID        int64        `db:"id"`
	OrderID   int64        `db:"order_id"`
	ProductID int64        `db:"product_id"`
	Quantity  int          `db:"quantity"`
	UnitPrice domain.Money `db:"unit_price"`
	Subtotal  domain.Money `db:"subtotal"`
	CreatedAt time.Time    `db:"created_at"`
}

type stockLevelRow struct {
	inventoryRow
	Name  string       `db:"name"`
	SKU   string       `db:"sku"`
	Price domain.Money `db:"price"`
}

type historyRow struct {
	ID        int64          `db:"id"`
	OrderID   int64          `db:"order_id"`
	Status    string         `db:"status"`
	Notes     sql.NullString `db:"notes"`
	CreatedAt time.Time      `db:"created_at"`
}

const (
	inventoryColumns = `product_id, quantity, min_quantity, max_quantity, location, created_at, updated_at`
	orderColumns     = `id, customer_name, customer_email, shipping_address, total_price, status, idempotency_key, created_at, updated_at`
)

func (t *mysqlTx) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT id, name, sku, price FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "build product query")
	}

	var rows []productRow
	if err := t.tx.SelectContext(ctx, &rows, t.tx.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(classifyMySQL(err), "query products")
	}
	for _, r := range rows {
		out[r.ID] = domain.Product{ID: r.ID, Name: r.Name, SKU: r.SKU, Price: r.Price}
	}
	return out, nil
}

func (t *mysqlTx) LockInventory(ctx context.Context, productID int64) (*domain.InventoryRecord, error) {
	return t.inventory(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE product_id = ? FOR UPDATE`, productID)
}

func (t *mysqlTx) GetInventory(ctx context.Context, productID int64) (*domain.InventoryRecord, error) {
	return t.inventory(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE product_id = ?`, productID)
}

func (t *mysqlTx) inventory(ctx context.Context, query string, productID int64) (*domain.InventoryRecord, error) {
	var row inventoryRow
	err := t.tx.GetContext(ctx, &row, query, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(classifyMySQL(err), "query inventory")
	}
	return row.toDomain(), nil
}

func (t *mysqlTx) ListInventory(ctx context.Context, page domain.Page) ([]domain.StockLevel, error) {
	var rows []stockLevelRow
	if err := t.tx.SelectContext(ctx, &rows, `
		SELECT i.product_id, i.quantity, i.min_quantity, i.max_quantity, i.location, i.created_at, i.updated_at,
			p.name, p.sku, p.price
		FROM inventory i
		JOIN products p ON p.id = i.product_id
		ORDER BY i.updated_at DESC, i.product_id
		LIMIT ? OFFSET ?`, page.Limit, page.Offset,
	); err != nil {
		return nil, errors.Wrap(classifyMySQL(err), "list inventory")
	}

	levels := make([]domain.StockLevel, 0, len(rows))
	for _, r := range rows {
		levels = append(levels, domain.StockLevel{
			Product: domain.Product{ID: r.ProductID, Name: r.Name, SKU: r.SKU, Price: r.Price},
			Record:  *r.inventoryRow.toDomain(),
		})
	}
	return levels, nil
}

func (t *mysqlTx) CreateInventory(ctx context.Context, record domain.InventoryRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory (product_id, quantity, min_quantity, max_quantity, location, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ProductID, record.Quantity, record.MinQuantity, nullInt(record.MaxQuantity),
		nullString(record.Location), record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(classifyMySQL(err), "insert inventory")
	}
	return nil
}

func (t *mysqlTx) UpdateInventory(ctx context.Context, record domain.InventoryRecord) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE inventory
		SET quantity = ?, min_quantity = ?, max_quantity = ?, location = ?, updated_at = ?
		WHERE product_id = ?`,
		record.Quantity, record.MinQuantity, nullInt(record.MaxQuantity), nullString(record.Location),
		record.UpdatedAt, record.ProductID,
	)
	if err != nil {
		return errors.Wrap(classifyMySQL(err), "update inventory")
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return errors.Errorf("update inventory: product %d has no row", record.ProductID)
	}
	return nil
}

func (t *mysqlTx) AppendAdjustment(ctx context.Context, adjustment *domain.InventoryAdjustment) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_adjustments (product_id, delta, reason, quantity_after, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		adjustment.ProductID, adjustment.Delta, adjustment.Reason, adjustment.QuantityAfter, adjustment.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(classifyMySQL(err), "insert adjustment")
	}
	adjustment.ID, err = result.LastInsertId()
	return errors.Wrap(err, "adjustment id")
}

func (t *mysqlTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (customer_name, customer_email, shipping_address, total_price, status, idempotency_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		order.CustomerName, order.CustomerEmail, order.ShippingAddress, order.TotalPrice,
		string(order.Status), nullString(order.IdempotencyKey), order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(classifyMySQL(err), "insert order")
	}
	if order.ID, err = result.LastInsertId(); err != nil {
		return errors.Wrap(err, "order id")
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		result, err := t.tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal, item.CreatedAt,
		)
		if err != nil {
			return errors.Wrap(classifyMySQL(err), "insert order item")
		}
		if item.ID, err = result.LastInsertId(); err != nil {
			return errors.Wrap(err, "order item id")
		}
	}
	return nil
}

func (t *mysqlTx) LockOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return t.order(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ? FOR UPDATE`, orderID)
}

func (t *mysqlTx) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := t.order(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, orderID)
	if err != nil || order == nil {
		return order, err
	}
	return order, t.attachItems(ctx, []*domain.Order{order})
}

func (t *mysqlTx) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	order, err := t.order(ctx, `SELECT `+orderColumns+` FROM orders WHERE idempotency_key = ?`, key)
	if err != nil || order == nil {
		return order, err
	}
	return order, t.attachItems(ctx, []*domain.Order{order})
}

func (t *mysqlTx) ListOrders(ctx context.Context, page domain.Page) ([]domain.Order, error) {
	var rows []orderRow
	if err := t.tx.SelectContext(ctx, &rows, `SELECT `+orderColumns+` FROM orders
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, page.Limit, page.Offset,
	); err != nil {
		return nil, errors.Wrap(classifyMySQL(err), "list orders")
	}

	refs := make([]*domain.Order, 0, len(rows))
	for _, r := range rows {
		refs = append(refs, r.toDomain())
	}
	if err := t.attachItems(ctx, refs); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(refs))
	for _, o := range refs {
		orders = append(orders, *o)
	}
	return orders, nil
}

// attachItems loads the items of every order in one query.
func (t *mysqlTx) attachItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[int64]*domain.Order, len(orders))
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		o.Items = []domain.OrderItem{}
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	query, args, err := sqlx.In(`
		SELECT id, order_id, product_id, quantity, unit_price, subtotal, created_at
		FROM order_items WHERE order_id IN (?) ORDER BY order_id, id`, ids)
	if err != nil {
		return errors.Wrap(err, "build order items query")
	}

	var items []orderItemRow
	if err := t.tx.SelectContext(ctx, &items, t.tx.Rebind(query), args...); err != nil {
		return errors.Wrap(classifyMySQL(err), "query order items")
	}
	for _, r := range items {
		o := byID[r.OrderID]
		o.Items = append(o.Items, domain.OrderItem{
			ID:        r.ID,
			OrderID:   r.OrderID,
			ProductID: r.ProductID,
			Quantity:  r.Quantity,
			UnitPrice: r.UnitPrice,
			Subtotal:  r.Subtotal,
			CreatedAt: r.CreatedAt,
		})
	}
	return nil
}

func (t *mysqlTx) order(ctx context.Context, query string, arg any) (*domain.Order, error) {
	var row orderRow
	err := t.tx.GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(classifyMySQL(err), "query order")
	}
	return row.toDomain(), nil
}

func (t *mysqlTx) UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), at, orderID)
	return errors.Wrap(classifyMySQL(err), "update order status")
}

func (t *mysqlTx) AppendHistory(ctx context.Context, entry *domain.OrderHistoryEntry) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_history (order_id, status, notes, created_at)
		VALUES (?, ?, ?, ?)`,
		entry.OrderID, string(entry.Status), nullString(entry.Note), entry.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(classifyMySQL(err), "insert order history")
	}
	entry.ID, err = result.LastInsertId()
	return errors.Wrap(err, "history id")
}

func (t *mysqlTx) ListHistory(ctx context.Context, orderID int64) ([]domain.OrderHistoryEntry, error) {
	var rows []historyRow
	if err := t.tx.SelectContext(ctx, &rows, `
		SELECT id, order_id, status, notes, created_at
		FROM order_history WHERE order_id = ? ORDER BY created_at, id`, orderID,
	); err != nil {
		return nil, errors.Wrap(classifyMySQL(err), "query order history")
	}

	entries := make([]domain.OrderHistoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, domain.OrderHistoryEntry{
			ID:        r.ID,
			OrderID:   r.OrderID,
			Status:    domain.OrderStatus(r.Status),
			Note:      r.Notes.String,
			CreatedAt: r.CreatedAt,
		})
	}
	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
