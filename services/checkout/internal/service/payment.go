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
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/gateway"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/notify"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/repo"
)

const defaultSourceTTL = 30 * time.Minute

type PaymentService struct {
	Repo     *repo.GormRepo
	Gateway  PaymentGateway
	Events   EventPublisher
	Notify   Notifier
	Invoices InvoiceEmitter
	BG       *Background
	// SourceTTL is how long a pending source blocks a new payment attempt.
	SourceTTL time.Duration
	Now       func() time.Time
}

func (s *PaymentService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *PaymentService) sourceTTL() time.Duration {
	if s.SourceTTL > 0 {
		return s.SourceTTL
	}
	return defaultSourceTTL
}

func payable(st models.OrderStatus) bool {
	return st == models.StatusPending || st == models.StatusAwaitingPayment
}

// InitiatePayment creates a gateway source for the order's total and
// returns it with the checkout URL. The gateway call runs outside any
// transaction; the source row and the move to awaiting_payment are
// committed together afterwards.
func (s *PaymentService) InitiatePayment(ctx context.Context, userID, orderID uuid.UUID, amount decimal.Decimal, method string) (*models.PaymentSource, error) {
	l := logging.FromContext(ctx).With("op", "initiate_payment", "order_id", orderID)

	method = strings.TrimSpace(method)
	if method == "" {
		return nil, fmt.Errorf("%w: method required", ErrValidation)
	}

	order, err := s.Repo.GetUserOrder(ctx, orderID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	if !payable(order.Status) {
		return nil, fmt.Errorf("%w: order is %s", ErrOrderNotPayable, order.Status)
	}
	if !amount.Equal(order.Total) {
		return nil, fmt.Errorf("%w: got %s, order total is %s", ErrAmountMismatch, money.Format(amount), money.Format(order.Total))
	}

	pending, err := s.Repo.Sources(ctx, orderID, models.PaymentPending)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, src := range pending {
		if now.Sub(src.CreatedAt) < s.sourceTTL() {
			return nil, fmt.Errorf("%w: source %s is still open", ErrPaymentInProgress, src.ExternalID)
		}
	}

	gs, err := s.Gateway.CreateSource(ctx, order.Total, method, order.ID.String())
	if err != nil {
		l.Error("gateway_create_source_failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGateway, err)
	}

	src := &models.PaymentSource{
		OrderID:     order.ID,
		ExternalID:  gs.ID,
		Amount:      order.Total,
		Method:      method,
		CheckoutURL: gs.CheckoutURL,
		Result:      models.PaymentPending,
		CreatedAt:   now,
	}
	err = s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		o, err := repo.LockOrder(tx, order.ID)
		if err != nil {
			return err
		}
		if !payable(o.Status) {
			return fmt.Errorf("%w: order is %s", ErrOrderNotPayable, o.Status)
		}
		if _, err := repo.ExpirePendingSources(tx, o.ID); err != nil {
			return err
		}
		if err := repo.CreatePaymentSource(tx, src); err != nil {
			return err
		}
		if o.Status == models.StatusPending {
			_, err := repo.TransitionStatus(tx, o.ID, []models.OrderStatus{models.StatusPending}, models.StatusAwaitingPayment, "payment source "+src.ExternalID+" created")
			return err
		}
		return nil
	})
	if err != nil {
		// The gateway source is left to expire on the gateway side.
		l.Warn("payment_source_not_recorded", "source_id", gs.ID, "error", err)
		return nil, err
	}

	l.Info("payment_initiated", "source_id", src.ExternalID, "method", method)
	return src, nil
}

// VerifyAndSettle asks the gateway where a source stands and applies the
// result. Settling an already paid source is a no-op that returns paid.
func (s *PaymentService) VerifyAndSettle(ctx context.Context, externalID string) (models.PaymentResult, error) {
	l := logging.FromContext(ctx).With("op", "verify_and_settle", "source_id", externalID)

	src, err := s.Repo.GetSource(ctx, externalID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", fmt.Errorf("%w: source %s", ErrNotFound, externalID)
	}
	if err != nil {
		return "", err
	}
	if src.Result == models.PaymentPaid || src.Result == models.PaymentFailed {
		return src.Result, nil
	}

	result, err := s.Gateway.Resolve(ctx, externalID)
	if errors.Is(err, gateway.ErrNotFound) {
		result, err = models.PaymentExpired, nil
	}
	if err != nil {
		l.Error("gateway_resolve_failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrGateway, err)
	}

	switch result {
	case models.PaymentPaid:
		return s.settlePaid(ctx, src)
	case models.PaymentFailed, models.PaymentExpired:
		return s.settleUnpaid(ctx, src, result)
	default:
		return src.Result, nil
	}
}

func (s *PaymentService) settlePaid(ctx context.Context, src *models.PaymentSource) (models.PaymentResult, error) {
	l := logging.FromContext(ctx).With("op", "settle_paid", "source_id", src.ExternalID, "order_id", src.OrderID)

	var (
		order        *models.Order
		transitioned bool
		unapplied    bool
	)
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		o, err := repo.LockOrder(tx, src.OrderID)
		if err != nil {
			return err
		}
		flipped, err := repo.SettleSource(tx, src.ExternalID, []models.PaymentResult{models.PaymentPending, models.PaymentExpired}, models.PaymentPaid)
		if err != nil {
			return err
		}

		applied, err := repo.TransitionStatus(tx, o.ID, []models.OrderStatus{models.StatusAwaitingPayment}, models.StatusPaid, "payment "+src.ExternalID+" settled")
		if err != nil {
			return err
		}
		if applied {
			transitioned = true
			if o.CouponID != nil {
				counted, err := coupon.IncrementUsage(tx, *o.CouponID)
				if err != nil {
					return err
				}
				if !counted {
					l.Warn("coupon_usage_cap_exceeded", "coupon", derefString(o.CouponCode))
				}
			}
			o.Status = models.StatusPaid
		} else if flipped {
			// Money for an order that no longer takes payment: cancelled, or
			// already paid through another source.
			unapplied = true
		}
		order = o
		return nil
	})
	if err != nil {
		return "", err
	}

	switch {
	case transitioned:
		paymentsResolved.WithLabelValues(string(models.PaymentPaid)).Inc()
		l.Info("order_paid", "total", money.Format(order.Total))
		s.afterPaid(ctx, *order, src.ExternalID)
	case unapplied:
		l.Error("payment_unapplied", "amount", money.Format(src.Amount), "order_status", order.Status)
		paid := *order
		s.BG.Go(ctx, "payment_unapplied_event", func(ctx context.Context) error {
			ev := orderEvent(events.PaymentUnapplied, &paid)
			ev.Data["source_id"] = src.ExternalID
			ev.Data["amount"] = money.Format(src.Amount)
			return s.Events.Publish(ctx, ev)
		})
	}
	return models.PaymentPaid, nil
}

func (s *PaymentService) afterPaid(ctx context.Context, order models.Order, sourceID string) {
	s.BG.Go(ctx, "order_paid_event", func(ctx context.Context) error {
		ev := orderEvent(events.OrderPaid, &order)
		ev.Data["source_id"] = sourceID
		return s.Events.Publish(ctx, ev)
	})
	s.BG.Go(ctx, "payment_receipt", func(ctx context.Context) error {
		return s.Notify.Notify(ctx, notify.Notification{
			Kind:    notify.KindPaymentReceipt,
			UserID:  order.UserID.String(),
			OrderID: order.ID.String(),
			Params:  map[string]string{"total": money.Format(order.Total), "source_id": sourceID},
		})
	})
	if s.Invoices != nil {
		s.BG.Go(ctx, "invoice", func(ctx context.Context) error {
			p, err := s.Invoices.Emit(ctx, order.ID)
			if err != nil {
				return err
			}
			logging.FromContext(ctx).Info("invoice_emitted", "order_id", order.ID, "path", p)
			return nil
		})
	}
}

// settleUnpaid records a failed or expired source. The order stays in
// awaiting_payment so the customer can retry with a new source.
func (s *PaymentService) settleUnpaid(ctx context.Context, src *models.PaymentSource, result models.PaymentResult) (models.PaymentResult, error) {
	var applied bool
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		var err error
		from := []models.PaymentResult{models.PaymentPending}
		if result == models.PaymentFailed {
			from = append(from, models.PaymentExpired)
		}
		applied, err = repo.SettleSource(tx, src.ExternalID, from, result)
		return err
	})
	if err != nil {
		return "", err
	}
	if !applied {
		return src.Result, nil
	}

	paymentsResolved.WithLabelValues(string(result)).Inc()
	logging.FromContext(ctx).Info("payment_unsuccessful", "source_id", src.ExternalID, "order_id", src.OrderID, "result", result)
	s.BG.Go(ctx, "payment_failed_event", func(ctx context.Context) error {
		return s.Events.Publish(ctx, events.Event{
			Type:    events.PaymentFailed,
			OrderID: src.OrderID.String(),
			Data:    map[string]any{"source_id": src.ExternalID, "result": string(result)},
		})
	})
	return result, nil
}

// HandleWebhook re-verifies the source named by a gateway callback rather
// than trusting the payload's status.
func (s *PaymentService) HandleWebhook(ctx context.Context, ev *gateway.Event) (models.PaymentResult, error) {
	logging.FromContext(ctx).Info("payment_webhook", "type", ev.Type, "source_id", ev.SourceID)
	return s.VerifyAndSettle(ctx, ev.SourceID)
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
