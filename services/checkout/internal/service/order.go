package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Skotchmaster/online_pharmacy/pkg/logging"
	"github.com/Skotchmaster/online_pharmacy/pkg/money"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/coupon"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/events"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/notify"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/pricing"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/repo"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/stock"
)

const maxLineQuantity = 1000

type OrderLine struct {
	ProductID      uuid.UUID
	Quantity       int
	PrescriptionID string
}

type PlaceOrderInput struct {
	Items           []OrderLine
	ShippingAddress models.ShippingAddress
	ShippingMethod  string
	PaymentMethod   string
	CouponCode      string
}

type OrderService struct {
	Repo   *repo.GormRepo
	Rates  RateBook
	Events EventPublisher
	Notify Notifier
	Idem   IdempotencyStore
	BG     *Background
	Now    func() time.Time
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func validatePlaceOrder(in PlaceOrderInput) error {
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: items required", ErrValidation)
	}
	for i, it := range in.Items {
		if it.ProductID == uuid.Nil {
			return fmt.Errorf("%w: items[%d].product_id required", ErrValidation, i)
		}
		if it.Quantity <= 0 || it.Quantity > maxLineQuantity {
			return fmt.Errorf("%w: items[%d].quantity must be between 1 and %d", ErrValidation, i, maxLineQuantity)
		}
	}
	a := in.ShippingAddress
	if strings.TrimSpace(a.Street) == "" || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.Country) == "" {
		return fmt.Errorf("%w: shipping_address street, city and country required", ErrValidation)
	}
	if strings.TrimSpace(in.ShippingMethod) == "" {
		return fmt.Errorf("%w: shipping_method required", ErrValidation)
	}
	if strings.TrimSpace(in.PaymentMethod) == "" {
		return fmt.Errorf("%w: payment_method required", ErrValidation)
	}
	return nil
}

// PlaceOrder checks stock, prices the cart from live catalog prices, applies
// the coupon and commits the order, its items and the stock decrements in
// one transaction. Nothing is written when any step fails.
func (s *OrderService) PlaceOrder(ctx context.Context, userID uuid.UUID, in PlaceOrderInput) (*models.Order, error) {
	l := logging.FromContext(ctx).With("op", "place_order", "user_id", userID)

	if err := validatePlaceOrder(in); err != nil {
		return nil, err
	}
	shipping, err := s.Rates.ShippingCost(in.ShippingMethod)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	taxRate := s.Rates.TaxRate(in.ShippingAddress.Country, in.ShippingAddress.State)

	raw := make([]stock.Line, 0, len(in.Items))
	prescriptions := make(map[uuid.UUID]string)
	for _, it := range in.Items {
		raw = append(raw, stock.Line{ProductID: it.ProductID, Quantity: it.Quantity})
		if rx := strings.TrimSpace(it.PrescriptionID); rx != "" && prescriptions[it.ProductID] == "" {
			prescriptions[it.ProductID] = rx
		}
	}
	lines := stock.Merge(raw)
	now := s.now()

	var (
		order    *models.Order
		lowStock []events.Event
	)
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		locked := make([]*models.Product, 0, len(lines))
		items := make([]models.OrderItem, 0, len(lines))
		priced := make([]pricing.Line, 0, len(lines))

		for _, line := range lines {
			p, err := stock.CheckAndLock(tx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			item := models.OrderItem{ProductID: p.ID, Quantity: line.Quantity, UnitPrice: p.Price}
			if rx, ok := prescriptions[p.ID]; ok {
				item.PrescriptionID = &rx
			} else if p.RequiresPrescription {
				return fmt.Errorf("%w: product %s", ErrPrescriptionRequired, p.ID)
			}
			locked = append(locked, p)
			items = append(items, item)
			priced = append(priced, pricing.Line{UnitPrice: p.Price, Quantity: line.Quantity})
		}

		subtotal := pricing.Subtotal(priced)
		discount := decimal.Zero
		var couponID *uuid.UUID
		var couponCode *string
		if strings.TrimSpace(in.CouponCode) != "" {
			res, err := coupon.Validate(tx, in.CouponCode, subtotal, now)
			if err != nil {
				return err
			}
			discount = res.DiscountAmount
			couponID = &res.Coupon.ID
			couponCode = &res.Coupon.Code
		}

		b := pricing.Calculate(pricing.Input{
			Lines:    priced,
			Discount: discount,
			Shipping: shipping,
			TaxRate:  taxRate,
		})

		order = &models.Order{
			UserID:          userID,
			Status:          models.StatusPending,
			Subtotal:        b.Subtotal,
			DiscountAmount:  b.Discount,
			TaxAmount:       b.Tax,
			ShippingCost:    b.Shipping,
			Total:           b.Total,
			ShippingAddress: in.ShippingAddress,
			ShippingMethod:  strings.ToLower(strings.TrimSpace(in.ShippingMethod)),
			PaymentMethod:   strings.TrimSpace(in.PaymentMethod),
			CouponCode:      couponCode,
			CouponID:        couponID,
			Items:           items,
		}
		if err := repo.CreateOrder(tx, order); err != nil {
			return err
		}

		for i, p := range locked {
			qty := lines[i].Quantity
			if err := stock.Decrement(tx, p.ID, qty); err != nil {
				return err
			}
			left := p.StockQuantity - qty
			if p.StockQuantity > p.ReorderThreshold && left <= p.ReorderThreshold {
				lowStock = append(lowStock, events.Event{
					Type:      events.StockLow,
					ProductID: p.ID.String(),
					Data:      map[string]any{"stock_quantity": left, "reorder_threshold": p.ReorderThreshold},
				})
			}
		}

		return repo.AddStatusChange(tx, order.ID, "", models.StatusPending, "order placed")
	})
	if err != nil {
		checkoutRejected.WithLabelValues(rejectReason(err)).Inc()
		l.Info("checkout_rolled_back", "error", err)
		return nil, err
	}

	ordersPlaced.Inc()
	l.Info("order_placed", "order_id", order.ID, "total", money.Format(order.Total))

	placed := *order
	s.BG.Go(ctx, "order_created_event", func(ctx context.Context) error {
		return s.Events.Publish(ctx, orderEvent(events.OrderCreated, &placed))
	})
	s.BG.Go(ctx, "order_confirmation", func(ctx context.Context) error {
		return s.Notify.Notify(ctx, notify.Notification{
			Kind:    notify.KindOrderConfirmation,
			UserID:  placed.UserID.String(),
			OrderID: placed.ID.String(),
			Params:  map[string]string{"total": money.Format(placed.Total)},
		})
	})
	for _, ev := range lowStock {
		s.BG.Go(ctx, "stock_low_event", func(ctx context.Context) error {
			return s.Events.Publish(ctx, ev)
		})
	}
	return order, nil
}

// PlaceOrderOnce makes PlaceOrder safe to retry under an idempotency key.
// A repeated key returns the order the first request created; replayed
// reports that case. A store outage degrades to plain PlaceOrder.
func (s *OrderService) PlaceOrderOnce(ctx context.Context, userID uuid.UUID, key string, in PlaceOrderInput) (order *models.Order, replayed bool, err error) {
	if key == "" || s.Idem == nil {
		order, err = s.PlaceOrder(ctx, userID, in)
		return order, false, err
	}
	l := logging.FromContext(ctx).With("op", "place_order_once", "idempotency_key", key)
	scope := "orders:" + userID.String()

	if id, found, rerr := s.Idem.Recall(ctx, scope, key); rerr != nil {
		l.Warn("idempotency_store_unavailable", "error", rerr)
		order, err = s.PlaceOrder(ctx, userID, in)
		return order, false, err
	} else if found {
		orderID, perr := uuid.Parse(id)
		if perr != nil {
			return nil, false, fmt.Errorf("remembered order id %q: %w", id, perr)
		}
		order, err = s.GetOrder(ctx, orderID, userID)
		return order, true, err
	}

	locked, lerr := s.Idem.TryLock(ctx, scope, key)
	if lerr != nil {
		l.Warn("idempotency_store_unavailable", "error", lerr)
		order, err = s.PlaceOrder(ctx, userID, in)
		return order, false, err
	}
	if !locked {
		return nil, false, ErrDuplicateRequest
	}

	order, err = s.PlaceOrder(ctx, userID, in)
	if err != nil {
		if rerr := s.Idem.Release(ctx, scope, key); rerr != nil {
			l.Warn("idempotency_release_failed", "error", rerr)
		}
		return nil, false, err
	}
	if rerr := s.Idem.Remember(ctx, scope, key, order.ID.String()); rerr != nil {
		l.Warn("idempotency_remember_failed", "error", rerr)
	}
	return order, false, nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	o, err := s.Repo.GetUserOrder(ctx, orderID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return o, err
}

func (s *OrderService) ListOrders(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Order, int64, error) {
	return s.Repo.ListOrders(ctx, userID, limit, offset)
}

// CancelOrder cancels the caller's order while it is still pending and puts
// its stock back.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		o, err := lockOwnedOrder(tx, orderID, userID)
		if err != nil {
			return err
		}
		if o.Status != models.StatusPending {
			return fmt.Errorf("%w: order is %s", ErrOrderNotCancellable, o.Status)
		}
		applied, err := repo.TransitionStatus(tx, o.ID, []models.OrderStatus{models.StatusPending}, models.StatusCancelled, "cancelled by customer")
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%w: order changed concurrently", ErrOrderNotCancellable)
		}
		if err := restoreItems(tx, o.Items); err != nil {
			return err
		}
		o.Status = models.StatusCancelled
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("order_cancelled", "order_id", order.ID)
	cancelled := *order
	s.BG.Go(ctx, "order_cancelled_event", func(ctx context.Context) error {
		ev := orderEvent(events.OrderCancelled, &cancelled)
		ev.Data["reason"] = "customer"
		return s.Events.Publish(ctx, ev)
	})
	s.BG.Go(ctx, "order_cancelled_notification", func(ctx context.Context) error {
		return s.Notify.Notify(ctx, notify.Notification{
			Kind:    notify.KindOrderCancelled,
			UserID:  cancelled.UserID.String(),
			OrderID: cancelled.ID.String(),
		})
	})
	return order, nil
}

// RequestRefund opens a refund for a completed order. Stock is not
// restored; returned goods are handled by fulfilment.
func (s *OrderService) RequestRefund(ctx context.Context, orderID, userID uuid.UUID, reason string) (*models.Refund, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason required", ErrValidation)
	}

	var refund *models.Refund
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		o, err := lockOwnedOrder(tx, orderID, userID)
		if err != nil {
			return err
		}
		if o.Status != models.StatusCompleted {
			return fmt.Errorf("%w: order is %s", ErrNotEligibleForRefund, o.Status)
		}
		applied, err := repo.TransitionStatus(tx, o.ID, []models.OrderStatus{models.StatusCompleted}, models.StatusRefundRequested, reason)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%w: order changed concurrently", ErrNotEligibleForRefund)
		}
		refund = &models.Refund{
			OrderID: o.ID,
			UserID:  userID,
			Reason:  reason,
			Status:  models.RefundRequested,
		}
		return repo.CreateRefund(tx, refund)
	})
	if err != nil {
		return nil, err
	}

	r := *refund
	s.BG.Go(ctx, "refund_requested_event", func(ctx context.Context) error {
		return s.Events.Publish(ctx, events.Event{
			Type:    events.RefundRequested,
			OrderID: r.OrderID.String(),
			UserID:  r.UserID.String(),
			Data:    map[string]any{"reason": r.Reason},
		})
	})
	s.BG.Go(ctx, "refund_requested_notification", func(ctx context.Context) error {
		return s.Notify.Notify(ctx, notify.Notification{
			Kind:    notify.KindRefundRequested,
			UserID:  r.UserID.String(),
			OrderID: r.OrderID.String(),
		})
	})
	return refund, nil
}

// AdminTransition applies a fulfilment step (paid -> processing ->
// completed, refund_requested -> refunded).
func (s *OrderService) AdminTransition(ctx context.Context, orderID uuid.UUID, to models.OrderStatus, reason string) (*models.Order, error) {
	var (
		order *models.Order
		from  models.OrderStatus
	)
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		o, err := repo.LockOrder(tx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		if err != nil {
			return err
		}
		if !models.CanAdminTransition(o.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
		}
		if reason == "" {
			reason = "admin: " + string(to)
		}
		applied, err := repo.TransitionStatus(tx, o.ID, []models.OrderStatus{o.Status}, to, reason)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%w: order changed concurrently", ErrInvalidTransition)
		}
		if to == models.StatusRefunded {
			if err := repo.MarkRefunded(tx, o.ID); err != nil {
				return err
			}
		}
		from = o.Status
		o.Status = to
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	changed := *order
	s.BG.Go(ctx, "order_status_event", func(ctx context.Context) error {
		ev := orderEvent(events.OrderStatusChanged, &changed)
		ev.Data["from"] = string(from)
		return s.Events.Publish(ctx, ev)
	})
	return order, nil
}

func lockOwnedOrder(tx *gorm.DB, orderID, userID uuid.UUID) (*models.Order, error) {
	o, err := repo.LockOrder(tx, orderID)
	if errors.Is(err, repo.ErrNotFound) || (err == nil && o.UserID != userID) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return o, err
}

// restoreItems returns stock in product id order, the same order checkout
// locks rows in.
func restoreItems(tx *gorm.DB, items []models.OrderItem) error {
	lines := make([]stock.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, stock.Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	for _, l := range stock.Merge(lines) {
		if err := stock.Restore(tx, l.ProductID, l.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func orderEvent(kind string, o *models.Order) events.Event {
	return events.Event{
		Type:    kind,
		OrderID: o.ID.String(),
		UserID:  o.UserID.String(),
		Data: map[string]any{
			"status": string(o.Status),
			"total":  money.Format(o.Total),
		},
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, stock.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, stock.ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, coupon.ErrCouponNotFound):
		return "invalid_coupon"
	case errors.Is(err, coupon.ErrMinimumNotMet):
		return "minimum_not_met"
	case errors.Is(err, ErrPrescriptionRequired):
		return "prescription_required"
	default:
		return "internal"
	}
}
