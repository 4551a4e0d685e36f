package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
	"github.com/rl1809/warehouse-orders/internal/port"
)

var (
	ErrRowNotLocked  = errors.New("row not locked by transaction")
	ErrDuplicateRow  = port.ErrRowExists
	ErrInjectedFault = errors.New("injected fault")
)

// MemoryStore is an in-process Store. Row locks behave like
// SELECT ... FOR UPDATE: they are held until commit or rollback and waiting
// on them honours context cancellation. Writes are buffered per transaction
// and applied only on commit.
type MemoryStore struct {
	mu          sync.Mutex
	products    map[int64]domain.Product
	inventory   map[int64]domain.InventoryRecord
	adjustments []domain.InventoryAdjustment
	orders      map[int64]domain.Order
	history     map[int64][]domain.OrderHistoryEntry
	locks       map[string]chan struct{}
	faults      map[string]injectedFault
	seq         struct{ order, item, history, adjustment int64 }
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:  make(map[int64]domain.Product),
		inventory: make(map[int64]domain.InventoryRecord),
		orders:    make(map[int64]domain.Order),
		history:   make(map[int64][]domain.OrderHistoryEntry),
		locks:     make(map[string]chan struct{}),
		faults:    make(map[string]injectedFault),
	}
}

// PutProduct seeds a product and, when given, its inventory record.
func (s *MemoryStore) PutProduct(p domain.Product, inv *domain.InventoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	if inv != nil {
		rec := *inv
		rec.ProductID = p.ID
		s.inventory[p.ID] = rec
	}
}

type injectedFault struct {
	err  error
	once bool
}

// FailOn makes the named operation fail with err until cleared with a nil err.
// Operation names are the Tx method names plus "Commit".
func (s *MemoryStore) FailOn(op string, err error) {
	s.setFault(op, err, false)
}

// FailOnce is FailOn for the next call only.
func (s *MemoryStore) FailOnce(op string, err error) {
	s.setFault(op, err, true)
}

func (s *MemoryStore) setFault(op string, err error, once bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = injectedFault{err: err, once: once}
}

// SetPrice changes the catalog price of an existing product.
func (s *MemoryStore) SetPrice(productID int64, price domain.Money) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.products[productID]; ok {
		p.Price = price
		s.products[productID] = p
	}
}

// Stock returns the committed quantity of a product and whether a record exists.
func (s *MemoryStore) Stock(productID int64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inventory[productID]
	return rec.Quantity, ok
}

// Counts returns the number of committed orders, items and history entries.
func (s *MemoryStore) Counts() (orders, items, history int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		orders++
		items += len(o.Items)
	}
	for _, entries := range s.history {
		history += len(entries)
	}
	return orders, items, history
}

func (s *MemoryStore) Adjustments(productID int64) []domain.InventoryAdjustment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.InventoryAdjustment
	for _, a := range s.adjustments {
		if a.ProductID == productID {
			out = append(out, a)
		}
	}
	return out
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:     s,
		held:      make(map[string]chan struct{}),
		inventory: make(map[int64]domain.InventoryRecord),
		orders:    make(map[int64]domain.Order),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (s *MemoryStore) fault(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	if f.once {
		delete(s.faults, op)
	}
	return fmt.Errorf("%s: %w", op, f.err)
}

func (s *MemoryStore) rowLock(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[key] = l
	}
	return l
}

type memoryTx struct {
	store *MemoryStore
	held  map[string]chan struct{}

	inventory   map[int64]domain.InventoryRecord
	adjustments []domain.InventoryAdjustment
	orders      map[int64]domain.Order
	history     []domain.OrderHistoryEntry
}

func (tx *memoryTx) lock(ctx context.Context, key string) error {
	if _, ok := tx.held[key]; ok {
		return nil
	}
	l := tx.store.rowLock(key)
	select {
	case l <- struct{}{}:
		tx.held[key] = l
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (tx *memoryTx) release() {
	for key, l := range tx.held {
		<-l
		delete(tx.held, key)
	}
}

func (tx *memoryTx) commit() error {
	if err := tx.store.fault("Commit"); err != nil {
		return err
	}

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range tx.inventory {
		s.inventory[id] = rec
	}
	s.adjustments = append(s.adjustments, tx.adjustments...)
	for id, o := range tx.orders {
		s.orders[id] = o
	}
	for _, e := range tx.history {
		s.history[e.OrderID] = append(s.history[e.OrderID], e)
	}
	return nil
}

func inventoryKey(productID int64) string { return fmt.Sprintf("inventory:%d", productID) }
func orderKey(orderID int64) string       { return fmt.Sprintf("order:%d", orderID) }

func (tx *memoryTx) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	if err := tx.store.fault("GetProducts"); err != nil {
		return nil, err
	}
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (tx *memoryTx) LockInventory(ctx context.Context, productID int64) (*domain.InventoryRecord, error) {
	if err := tx.store.fault("LockInventory"); err != nil {
		return nil, err
	}
	if err := tx.lock(ctx, inventoryKey(productID)); err != nil {
		return nil, err
	}
	return tx.readInventory(productID), nil
}

func (tx *memoryTx) GetInventory(ctx context.Context, productID int64) (*domain.InventoryRecord, error) {
	if err := tx.store.fault("GetInventory"); err != nil {
		return nil, err
	}
	return tx.readInventory(productID), nil
}

func (tx *memoryTx) readInventory(productID int64) *domain.InventoryRecord {
	if rec, ok := tx.inventory[productID]; ok {
		return &rec
	}
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.inventory[productID]; ok {
		return &rec
	}
	return nil
}

func (tx *memoryTx) ListInventory(ctx context.Context, page domain.Page) ([]domain.StockLevel, error) {
	if err := tx.store.fault("ListInventory"); err != nil {
		return nil, err
	}
	s := tx.store
	s.mu.Lock()
	levels := make([]domain.StockLevel, 0, len(s.inventory))
	for id, rec := range s.inventory {
		if buffered, ok := tx.inventory[id]; ok {
			rec = buffered
		}
		levels = append(levels, domain.StockLevel{Product: s.products[id], Record: rec})
	}
	for id, rec := range tx.inventory {
		if _, ok := s.inventory[id]; !ok {
			levels = append(levels, domain.StockLevel{Product: s.products[id], Record: rec})
		}
	}
	s.mu.Unlock()

	sort.Slice(levels, func(i, j int) bool {
		a, b := levels[i].Record, levels[j].Record
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ProductID < b.ProductID
	})
	return paginate(levels, page), nil
}

func (tx *memoryTx) CreateInventory(ctx context.Context, record domain.InventoryRecord) error {
	if err := tx.store.fault("CreateInventory"); err != nil {
		return err
	}
	if err := tx.lock(ctx, inventoryKey(record.ProductID)); err != nil {
		return err
	}
	if tx.readInventory(record.ProductID) != nil {
		return fmt.Errorf("inventory %d: %w", record.ProductID, ErrDuplicateRow)
	}
	tx.inventory[record.ProductID] = record
	return nil
}

func (tx *memoryTx) UpdateInventory(ctx context.Context, record domain.InventoryRecord) error {
	if err := tx.store.fault("UpdateInventory"); err != nil {
		return err
	}
	if _, ok := tx.held[inventoryKey(record.ProductID)]; !ok {
		return fmt.Errorf("inventory %d: %w", record.ProductID, ErrRowNotLocked)
	}
	if record.Quantity < 0 {
		return fmt.Errorf("inventory %d: quantity %d violates check constraint", record.ProductID, record.Quantity)
	}
	tx.inventory[record.ProductID] = record
	return nil
}

func (tx *memoryTx) AppendAdjustment(ctx context.Context, adjustment *domain.InventoryAdjustment) error {
	if err := tx.store.fault("AppendAdjustment"); err != nil {
		return err
	}
	s := tx.store
	s.mu.Lock()
	s.seq.adjustment++
	adjustment.ID = s.seq.adjustment
	s.mu.Unlock()

	tx.adjustments = append(tx.adjustments, *adjustment)
	return nil
}

func (tx *memoryTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	if err := tx.store.fault("CreateOrder"); err != nil {
		return err
	}
	if order.IdempotencyKey != "" && tx.findByKey(order.IdempotencyKey) != nil {
		return fmt.Errorf("order key %s: %w", order.IdempotencyKey, ErrDuplicateRow)
	}
	s := tx.store
	s.mu.Lock()
	s.seq.order++
	order.ID = s.seq.order
	for i := range order.Items {
		s.seq.item++
		order.Items[i].ID = s.seq.item
		order.Items[i].OrderID = order.ID
	}
	s.mu.Unlock()

	if err := tx.lock(ctx, orderKey(order.ID)); err != nil {
		return err
	}
	tx.orders[order.ID] = copyOrder(*order)
	return nil
}

func (tx *memoryTx) LockOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	if err := tx.store.fault("LockOrder"); err != nil {
		return nil, err
	}
	if err := tx.lock(ctx, orderKey(orderID)); err != nil {
		return nil, err
	}
	order := tx.readOrder(orderID)
	if order != nil {
		order.Items = nil
	}
	return order, nil
}

func (tx *memoryTx) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	if err := tx.store.fault("GetOrder"); err != nil {
		return nil, err
	}
	return tx.readOrder(orderID), nil
}

func (tx *memoryTx) readOrder(orderID int64) *domain.Order {
	if o, ok := tx.orders[orderID]; ok {
		c := copyOrder(o)
		return &c
	}
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		c := copyOrder(o)
		return &c
	}
	return nil
}

func (tx *memoryTx) GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	if err := tx.store.fault("GetOrderByIdempotencyKey"); err != nil {
		return nil, err
	}
	return tx.findByKey(key), nil
}

func (tx *memoryTx) findByKey(key string) *domain.Order {
	for _, o := range tx.visibleOrders() {
		if o.IdempotencyKey == key {
			c := copyOrder(o)
			return &c
		}
	}
	return nil
}

// visibleOrders merges committed orders with this transaction's writes.
func (tx *memoryTx) visibleOrders() map[int64]domain.Order {
	s := tx.store
	s.mu.Lock()
	out := make(map[int64]domain.Order, len(s.orders)+len(tx.orders))
	for id, o := range s.orders {
		out[id] = o
	}
	s.mu.Unlock()
	for id, o := range tx.orders {
		out[id] = o
	}
	return out
}

func (tx *memoryTx) ListOrders(ctx context.Context, page domain.Page) ([]domain.Order, error) {
	if err := tx.store.fault("ListOrders"); err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0)
	for _, o := range tx.visibleOrders() {
		orders = append(orders, copyOrder(o))
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
	return paginate(orders, page), nil
}

func (tx *memoryTx) UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus, at time.Time) error {
	if err := tx.store.fault("UpdateOrderStatus"); err != nil {
		return err
	}
	if _, ok := tx.held[orderKey(orderID)]; !ok {
		return fmt.Errorf("order %d: %w", orderID, ErrRowNotLocked)
	}
	order := tx.readOrder(orderID)
	if order == nil {
		return fmt.Errorf("order %d: no such row", orderID)
	}
	order.Status = status
	order.UpdatedAt = at
	tx.orders[orderID] = *order
	return nil
}

func (tx *memoryTx) AppendHistory(ctx context.Context, entry *domain.OrderHistoryEntry) error {
	if err := tx.store.fault("AppendHistory"); err != nil {
		return err
	}
	if tx.readOrder(entry.OrderID) == nil {
		return fmt.Errorf("history for order %d: foreign key violation", entry.OrderID)
	}
	s := tx.store
	s.mu.Lock()
	s.seq.history++
	entry.ID = s.seq.history
	s.mu.Unlock()

	tx.history = append(tx.history, *entry)
	return nil
}

func (tx *memoryTx) ListHistory(ctx context.Context, orderID int64) ([]domain.OrderHistoryEntry, error) {
	if err := tx.store.fault("ListHistory"); err != nil {
		return nil, err
	}
	s := tx.store
	s.mu.Lock()
	entries := append([]domain.OrderHistoryEntry(nil), s.history[orderID]...)
	s.mu.Unlock()

	for _, e := range tx.history {
		if e.OrderID == orderID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func copyOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

func paginate[T any](items []T, page domain.Page) []T {
	if page.Offset >= len(items) {
		return []T{}
	}
	items = items[page.Offset:]
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}
