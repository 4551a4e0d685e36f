package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rl1809/warehouse-orders/internal/core/domain"
	"github.com/rl1809/warehouse-orders/internal/port"
)

// OrderService places orders: pricing, reservation, persistence and the
// initial history entry happen in a single transaction.
type OrderService struct {
	store    port.Store
	ledger   *InventoryLedger
	pricing  *PricingResolver
	workflow *StatusWorkflow
	opts     options
}

func NewOrderService(store port.Store, ledger *InventoryLedger, pricing *PricingResolver, workflow *StatusWorkflow, opts ...Option) *OrderService {
	return &OrderService{
		store:    store,
		ledger:   ledger,
		pricing:  pricing,
		workflow: workflow,
		opts:     newOptions(opts),
	}
}

func (s *OrderService) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (*domain.Order, error) {
	req = normalizePlaceOrder(req)
	if err := validatePlaceOrder(req); err != nil {
		return nil, err
	}

	log := s.opts.logger.WithFields(logrus.Fields{
		"customer_email": req.CustomerEmail,
		"items":          len(req.Items),
	})
	if req.IdempotencyKey != "" {
		log = log.WithField("request_id", req.IdempotencyKey)
	}

	idem := s.opts.idempotency
	if idem != nil && req.IdempotencyKey != "" {
		replay, err := s.claim(ctx, req.IdempotencyKey)
		if err != nil || replay != nil {
			return replay, err
		}
	}

	order, err := s.place(ctx, req)
	if err != nil {
		if idem != nil && req.IdempotencyKey != "" {
			// the request failed as a whole, so the caller may retry it
			if relErr := idem.Release(context.WithoutCancel(ctx), req.IdempotencyKey); relErr != nil {
				log.WithError(relErr).Warn("failed to release idempotency key")
			}
		}
		logFailure(log, "order placement failed", err)
		return nil, err
	}

	if idem != nil && req.IdempotencyKey != "" {
		s.complete(context.WithoutCancel(ctx), log, req.IdempotencyKey, order.ID)
	}

	log.WithFields(logrus.Fields{
		"order_id": order.ID,
		"total":    domain.FormatMoney(order.TotalPrice),
	}).Info("order placed")

	publish(ctx, s.opts, domain.Event{
		Type:       domain.EventOrderPlaced,
		OrderID:    order.ID,
		Status:     order.Status,
		Total:      domain.FormatMoney(order.TotalPrice),
		OccurredAt: order.CreatedAt,
	})
	return order, nil
}

// claim reserves the idempotency key. A non-nil order means the request was
// already committed and is replayed.
func (s *OrderService) claim(ctx context.Context, key string) (*domain.Order, error) {
	idem := s.opts.idempotency

	ok, err := idem.Acquire(ctx, key)
	if err != nil {
		return nil, &domain.TransactionError{Op: "idempotency check", Err: err}
	}
	if ok {
		return nil, nil
	}

	orderID, err := idem.Lookup(ctx, key)
	if err != nil {
		return nil, &domain.TransactionError{Op: "idempotency lookup", Err: err}
	}
	if orderID != 0 {
		return s.workflow.GetOrder(ctx, orderID)
	}

	// The key is still pending. Either the request is in flight, or it
	// committed and recording the result failed; the order row tells which.
	order, err := s.workflow.orderByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: %s is still in progress", domain.ErrDuplicateRequest, key)
	}
	s.complete(ctx, s.opts.logger.WithField("request_id", key), key, order.ID)
	return order, nil
}

// complete binds key to the committed order, retrying once. When both
// attempts fail the key stays pending and claim recovers it from the store.
func (s *OrderService) complete(ctx context.Context, log logrus.FieldLogger, key string, orderID int64) {
	err := s.opts.idempotency.Complete(ctx, key, orderID)
	if err == nil {
		return
	}
	log.WithError(err).Debug("retrying idempotency result")
	if err := s.opts.idempotency.Complete(ctx, key, orderID); err != nil {
		log.WithError(err).Warn("failed to record idempotency result")
	}
}

func (s *OrderService) place(ctx context.Context, req domain.PlaceOrderRequest) (*domain.Order, error) {
	ctx, cancel := withBudget(ctx, s.opts.timeout)
	defer cancel()

	ctx, span := s.opts.tracer.Start(ctx, "OrderService.PlaceOrder")
	defer span.End()
	span.SetAttributes(attribute.Int("order.lines", len(req.Items)))

	key := ""
	if s.opts.idempotency != nil {
		key = req.IdempotencyKey
	}

	var placed *domain.Order
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx port.Tx) error {
		quote, err := s.pricing.PriceOrder(ctx, tx, req.Items)
		if err != nil {
			return err
		}

		if err := s.ledger.ReserveAll(ctx, tx, PlanReservations(req.Items)); err != nil {
			return err
		}

		now := s.opts.now()
		order := newOrder(req, quote, now)
		order.IdempotencyKey = key
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		if err := s.workflow.recordInitial(ctx, tx, order); err != nil {
			return err
		}

		placed = order
		return nil
	})
	if err != nil {
		err = classify("place order", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int64("order.id", placed.ID))
	return placed, nil
}

func newOrder(req domain.PlaceOrderRequest, quote *Quote, now time.Time) *domain.Order {
	order := &domain.Order{
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		ShippingAddress: req.ShippingAddress,
		TotalPrice:      quote.Total,
		Status:          domain.InitialOrderStatus,
		Items:           make([]domain.OrderItem, 0, len(quote.Lines)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, line := range quote.Lines {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.Subtotal,
			CreatedAt: now,
		})
	}
	return order
}

// The remaining operations delegate to the workflow and the ledger so callers
// can depend on OrderService alone.
func (s *OrderService) ChangeStatus(ctx context.Context, orderID int64, status domain.OrderStatus, note string) (*domain.Order, error) {
	return s.workflow.ChangeStatus(ctx, orderID, status, note)
}

func (s *OrderService) History(ctx context.Context, orderID int64) ([]domain.OrderHistoryEntry, error) {
	return s.workflow.History(ctx, orderID)
}

func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return s.workflow.GetOrder(ctx, orderID)
}

func (s *OrderService) AdjustInventory(ctx context.Context, req domain.AdjustInventoryRequest) (*domain.InventoryRecord, error) {
	return s.ledger.Adjust(ctx, req)
}

func (s *OrderService) Inventory(ctx context.Context, productID int64) (*domain.InventoryRecord, error) {
	return s.ledger.Inventory(ctx, productID)
}

func (s *OrderService) UpdateInventorySettings(ctx context.Context, req domain.InventorySettingsRequest) (*domain.InventoryRecord, error) {
	return s.ledger.UpdateSettings(ctx, req)
}

func (s *OrderService) ListInventory(ctx context.Context, page domain.Page) ([]domain.StockLevel, error) {
	return s.ledger.List(ctx, page)
}

func (s *OrderService) ListOrders(ctx context.Context, page domain.Page) ([]domain.Order, error) {
	return s.workflow.ListOrders(ctx, page)
}

func withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}

// publish emits committed events; failures are logged and never undo the
// committed transaction.
func publish(ctx context.Context, opts options, events ...domain.Event) {
	if opts.events == nil {
		return
	}
	if err := opts.events.Publish(context.WithoutCancel(ctx), events...); err != nil {
		opts.logger.WithError(err).WithField("event", events[0].Type).Warn("failed to publish event")
	}
}
