package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
	"github.com/rl1809/warehouse-orders/internal/port"
)

// Reservation is the total quantity of one product taken by an order.
type Reservation struct {
	ProductID int64
	Quantity  int
}

// InventoryLedger is the only path through which stock quantities change.
type InventoryLedger struct {
	store port.Store
	opts  options
}

func NewInventoryLedger(store port.Store, opts ...Option) *InventoryLedger {
	return &InventoryLedger{store: store, opts: newOptions(opts)}
}

// Reserve decrements the product's stock by quantity inside the caller's
// transaction. The row is locked first; on failure it is left untouched.
func (l *InventoryLedger) Reserve(ctx context.Context, tx port.InventoryRepository, productID int64, quantity int) error {
	if quantity < 1 {
		verr := &domain.ValidationError{}
		verr.Add("quantity", "must be at least 1")
		return verr
	}

	record, err := tx.LockInventory(ctx, productID)
	if err != nil {
		return err
	}
	if record == nil {
		return &domain.StockError{Kind: domain.ErrProductOrInventoryNotFound, ProductID: productID, Requested: quantity}
	}
	if !record.Available(quantity) {
		return &domain.StockError{
			Kind:      domain.ErrInsufficientStock,
			ProductID: productID,
			Requested: quantity,
			Available: record.Quantity,
		}
	}

	record.Quantity -= quantity
	record.UpdatedAt = l.opts.now()
	return tx.UpdateInventory(ctx, *record)
}

// ReserveAll reserves in ascending product order so that concurrent orders
// over overlapping products always lock rows in the same sequence. The first
// failure stops the loop; the caller's rollback undoes earlier reservations.
func (l *InventoryLedger) ReserveAll(ctx context.Context, tx port.InventoryRepository, reservations []Reservation) error {
	for _, r := range reservations {
		if err := l.Reserve(ctx, tx, r.ProductID, r.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// PlanReservations sums quantities per product and sorts by product ID,
// independent of the order lines were given in. A total above
// MaxStockQuantity saturates one past it, which no row can satisfy.
func PlanReservations(lines []domain.OrderLine) []Reservation {
	totals := make(map[int64]int, len(lines))
	for _, line := range lines {
		total := int64(totals[line.ProductID]) + int64(line.Quantity)
		if total > domain.MaxStockQuantity {
			total = domain.MaxStockQuantity + 1
		}
		totals[line.ProductID] = int(total)
	}
	plan := make([]Reservation, 0, len(totals))
	for id, qty := range totals {
		plan = append(plan, Reservation{ProductID: id, Quantity: qty})
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].ProductID < plan[j].ProductID })
	return plan
}

// Adjust applies an explicit stock change in its own transaction. A missing
// record is created for a non-negative delta.
func (l *InventoryLedger) Adjust(ctx context.Context, req domain.AdjustInventoryRequest) (*domain.InventoryRecord, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ctx, cancel := withBudget(ctx, l.opts.timeout)
	defer cancel()

	ctx, span := l.opts.tracer.Start(ctx, "InventoryLedger.Adjust")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", req.ProductID), attribute.Int("inventory.delta", req.Delta))

	log := l.opts.logger.WithFields(logrus.Fields{"product_id": req.ProductID, "delta": req.Delta})

	var result domain.InventoryRecord
	adjust := func(ctx context.Context, tx port.Tx) error {
		products, err := tx.GetProducts(ctx, []int64{req.ProductID})
		if err != nil {
			return err
		}
		if _, ok := products[req.ProductID]; !ok {
			return &domain.ProductNotFoundError{ProductIDs: []int64{req.ProductID}}
		}

		now := l.opts.now()
		record, err := tx.LockInventory(ctx, req.ProductID)
		if err != nil {
			return err
		}

		if record == nil {
			if req.Delta < 0 {
				return &domain.StockError{Kind: domain.ErrInsufficientStock, ProductID: req.ProductID, Requested: -req.Delta}
			}
			result = domain.InventoryRecord{
				ProductID: req.ProductID,
				Quantity:  req.Delta,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if req.Location != nil {
				result.Location = *req.Location
			}
			if err := tx.CreateInventory(ctx, result); err != nil {
				return err
			}
		} else {
			if req.Delta > domain.MaxStockQuantity-record.Quantity {
				verr := &domain.ValidationError{}
				verr.Add("delta", fmt.Sprintf("would raise stock above %d", domain.MaxStockQuantity))
				return verr
			}
			if record.Quantity+req.Delta < 0 {
				return &domain.StockError{
					Kind:      domain.ErrInsufficientStock,
					ProductID: req.ProductID,
					Requested: -req.Delta,
					Available: record.Quantity,
				}
			}
			result = *record
			result.Quantity += req.Delta
			result.UpdatedAt = now
			if req.Location != nil {
				result.Location = *req.Location
			}
			if err := tx.UpdateInventory(ctx, result); err != nil {
				return err
			}
		}

		return tx.AppendAdjustment(ctx, &domain.InventoryAdjustment{
			ProductID:     req.ProductID,
			Delta:         req.Delta,
			Reason:        req.Reason,
			QuantityAfter: result.Quantity,
			CreatedAt:     now,
		})
	}

	err := l.store.RunInTx(ctx, adjust)
	if errors.Is(err, port.ErrRowExists) {
		// a concurrent adjust created the record first; the retry locks it
		log.Debug("inventory record created concurrently, retrying")
		err = l.store.RunInTx(ctx, adjust)
	}
	if err != nil {
		err = classify("adjust inventory", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logFailure(log, "inventory adjustment failed", err)
		return nil, err
	}

	log.WithField("quantity", result.Quantity).Info("inventory adjusted")
	publish(ctx, l.opts, domain.Event{
		Type:       domain.EventInventoryAdjusted,
		ProductID:  req.ProductID,
		Delta:      req.Delta,
		Quantity:   result.Quantity,
		OccurredAt: result.UpdatedAt,
	})
	return &result, nil
}

// Inventory returns the committed stock record of a product.
func (l *InventoryLedger) Inventory(ctx context.Context, productID int64) (*domain.InventoryRecord, error) {
	ctx, cancel := withBudget(ctx, l.opts.timeout)
	defer cancel()

	var record *domain.InventoryRecord
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		record, err = tx.GetInventory(ctx, productID)
		if err != nil {
			return err
		}
		if record == nil {
			return &domain.StockError{Kind: domain.ErrProductOrInventoryNotFound, ProductID: productID}
		}
		return nil
	})
	if err != nil {
		return nil, classify("get inventory", err)
	}
	return record, nil
}

// UpdateSettings replaces the thresholds of an existing inventory record under
// its row lock. Quantity is left untouched.
func (l *InventoryLedger) UpdateSettings(ctx context.Context, req domain.InventorySettingsRequest) (*domain.InventoryRecord, error) {
	if err := validateSettings(req); err != nil {
		return nil, err
	}

	ctx, cancel := withBudget(ctx, l.opts.timeout)
	defer cancel()

	ctx, span := l.opts.tracer.Start(ctx, "InventoryLedger.UpdateSettings")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", req.ProductID))

	log := l.opts.logger.WithField("product_id", req.ProductID)

	var result domain.InventoryRecord
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
		record, err := tx.LockInventory(ctx, req.ProductID)
		if err != nil {
			return err
		}
		if record == nil {
			return &domain.StockError{Kind: domain.ErrProductOrInventoryNotFound, ProductID: req.ProductID}
		}

		result = *record
		result.MinQuantity = req.MinQuantity
		result.MaxQuantity = nil
		if req.MaxQuantity != nil {
			maxQty := *req.MaxQuantity
			result.MaxQuantity = &maxQty
		}
		if req.Location != nil {
			result.Location = strings.TrimSpace(*req.Location)
		}
		result.UpdatedAt = l.opts.now()
		return tx.UpdateInventory(ctx, result)
	})
	if err != nil {
		err = classify("update inventory settings", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logFailure(log, "inventory settings update failed", err)
		return nil, err
	}

	log.WithField("min_quantity", result.MinQuantity).Info("inventory settings updated")
	return &result, nil
}

// List returns a page of stock levels, most recently updated first.
func (l *InventoryLedger) List(ctx context.Context, page domain.Page) ([]domain.StockLevel, error) {
	page, err := normalizePage(page)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withBudget(ctx, l.opts.timeout)
	defer cancel()

	var levels []domain.StockLevel
	err = l.store.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		levels, err = tx.ListInventory(ctx, page)
		return err
	})
	if err != nil {
		return nil, classify("list inventory", err)
	}
	return levels, nil
}
