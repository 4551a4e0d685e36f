package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
	"github.com/rl1809/warehouse-orders/internal/port"
)

const placedNote = "order placed"

// StatusWorkflow owns order status transitions and the history log.
type StatusWorkflow struct {
	store port.Store
	opts  options
}

func NewStatusWorkflow(store port.Store, opts ...Option) *StatusWorkflow {
	return &StatusWorkflow{store: store, opts: newOptions(opts)}
}

// recordInitial writes the first history entry of a freshly created order
// inside the placing transaction.
func (w *StatusWorkflow) recordInitial(ctx context.Context, tx port.OrderRepository, order *domain.Order) error {
	return tx.AppendHistory(ctx, &domain.OrderHistoryEntry{
		OrderID:   order.ID,
		Status:    order.Status,
		Note:      placedNote,
		CreatedAt: order.CreatedAt,
	})
}

// ChangeStatus moves an order to next and appends one history entry. The
// order row is locked, so of two racing callers the second observes the
// first one's status. Requesting the status the order already has is a no-op.
func (w *StatusWorkflow) ChangeStatus(ctx context.Context, orderID int64, next domain.OrderStatus, note string) (*domain.Order, error) {
	if !next.Valid() {
		verr := &domain.ValidationError{}
		verr.Add("status", "must be one of Pending, Shipped, Cancelled")
		return nil, verr
	}

	ctx, cancel := withBudget(ctx, w.opts.timeout)
	defer cancel()

	ctx, span := w.opts.tracer.Start(ctx, "StatusWorkflow.ChangeStatus")
	defer span.End()
	span.SetAttributes(attribute.Int64("order.id", orderID), attribute.String("order.status", string(next)))

	log := w.opts.logger.WithFields(logrus.Fields{"order_id": orderID, "status": next})

	var (
		order   *domain.Order
		changed bool
	)
	err := w.store.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
		current, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if current == nil {
			return &domain.OrderNotFoundError{OrderID: orderID}
		}

		if current.Status != next {
			if !current.Status.CanTransitionTo(next) {
				return &domain.TransitionError{OrderID: orderID, From: current.Status, To: next}
			}
			now := w.opts.now()
			if err := tx.UpdateOrderStatus(ctx, orderID, next, now); err != nil {
				return err
			}
			if err := tx.AppendHistory(ctx, &domain.OrderHistoryEntry{
				OrderID:   orderID,
				Status:    next,
				Note:      strings.TrimSpace(note),
				CreatedAt: now,
			}); err != nil {
				return err
			}
			changed = true
		}

		order, err = tx.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		err = classify("change order status", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logFailure(log, "status change failed", err)
		return nil, err
	}

	if !changed {
		log.Info("status unchanged")
		return order, nil
	}

	log.Info("order status changed")
	publish(ctx, w.opts, domain.Event{
		Type:       domain.EventOrderStatusChanged,
		OrderID:    orderID,
		Status:     next,
		OccurredAt: order.UpdatedAt,
	})
	return order, nil
}

// History returns every entry of the order, earliest first.
func (w *StatusWorkflow) History(ctx context.Context, orderID int64) ([]domain.OrderHistoryEntry, error) {
	ctx, cancel := withBudget(ctx, w.opts.timeout)
	defer cancel()

	var entries []domain.OrderHistoryEntry
	err := w.store.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return &domain.OrderNotFoundError{OrderID: orderID}
		}
		entries, err = tx.ListHistory(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, classify("order history", err)
	}
	return entries, nil
}

// GetOrder returns the order with its items.
func (w *StatusWorkflow) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	ctx, cancel := withBudget(ctx, w.opts.timeout)
	defer cancel()

	var order *domain.Order
	err := w.store.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return &domain.OrderNotFoundError{OrderID: orderID}
		}
		return nil
	})
	if err != nil {
		return nil, classify("get order", err)
	}
	return order, nil
}

// orderByKey returns the order placed under an idempotency key, or nil.
func (w *StatusWorkflow) orderByKey(ctx context.Context, key string) (*domain.Order, error) {
	ctx, cancel := withBudget(ctx, w.opts.timeout)
	defer cancel()

	var order *domain.Order
	err := w.store.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		order, err = tx.GetOrderByIdempotencyKey(ctx, key)
		return err
	})
	if err != nil {
		return nil, classify("idempotency recovery", err)
	}
	return order, nil
}

// ListOrders returns a page of orders with their items, newest first.
func (w *StatusWorkflow) ListOrders(ctx context.Context, page domain.Page) ([]domain.Order, error) {
	page, err := normalizePage(page)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withBudget(ctx, w.opts.timeout)
	defer cancel()

	var orders []domain.Order
	err = w.store.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
		var err error
		orders, err = tx.ListOrders(ctx, page)
		return err
	})
	if err != nil {
		return nil, classify("list orders", err)
	}
	return orders, nil
}
