package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Skotchmaster/online_pharmacy/pkg/logging"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/events"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/notify"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/repo"
)

const (
	defaultAbandonAfter = 24 * time.Hour
	defaultSweepBatch   = 100
)

type SweepResult struct {
	Scanned   int
	Cancelled int
	Settled   int
	Skipped   int
}

// Sweeper cancels orders that stayed unpaid past AbandonAfter and returns
// their stock. Every open source is re-verified first so a payment that
// landed late still wins.
type Sweeper struct {
	Repo         *repo.GormRepo
	Payments     *PaymentService
	Events       EventPublisher
	Notify       Notifier
	BG           *Background
	AbandonAfter time.Duration
	BatchSize    int
	Now          func() time.Time
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	l := logging.FromContext(ctx).With("op", "abandoned_sweep")

	after := s.AbandonAfter
	if after <= 0 {
		after = defaultAbandonAfter
	}
	batch := s.BatchSize
	if batch <= 0 {
		batch = defaultSweepBatch
	}

	stale, err := s.Repo.ListStale(ctx, s.now().Add(-after), batch)
	if err != nil {
		return SweepResult{}, err
	}

	var res SweepResult
	for _, o := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Scanned++

		st, err := s.reverify(ctx, o.ID)
		if err != nil {
			// Gateway trouble: leave the order for the next run.
			l.Warn("sweep_reverify_failed", "order_id", o.ID, "error", err)
			res.Skipped++
			continue
		}
		switch st {
		case sourcePaid:
			res.Settled++
			continue
		case sourceOpen:
			l.Info("sweep_payment_in_progress", "order_id", o.ID)
			res.Skipped++
			continue
		}

		cancelled, err := s.cancel(ctx, o.ID)
		if err != nil {
			l.Error("sweep_cancel_failed", "order_id", o.ID, "error", err)
			res.Skipped++
			continue
		}
		if cancelled == nil {
			res.Skipped++
			continue
		}
		res.Cancelled++
		ordersSwept.Inc()
		s.afterCancel(ctx, *cancelled)
	}

	l.Info("sweep_finished", "scanned", res.Scanned, "cancelled", res.Cancelled, "settled", res.Settled, "skipped", res.Skipped)
	return res, nil
}

type sourceState int

const (
	sourceNone sourceState = iota
	sourceOpen
	sourcePaid
)

// reverify settles every open source of the order against the gateway.
// sourceOpen means a source is still pending and younger than the
// payment service's SourceTTL, so the customer may be paying right now.
func (s *Sweeper) reverify(ctx context.Context, orderID uuid.UUID) (sourceState, error) {
	open, err := s.Repo.Sources(ctx, orderID, models.PaymentPending, models.PaymentExpired)
	if err != nil {
		return sourceNone, err
	}
	st := sourceNone
	for _, src := range open {
		result, err := s.Payments.VerifyAndSettle(ctx, src.ExternalID)
		if err != nil {
			return sourceNone, err
		}
		switch {
		case result == models.PaymentPaid:
			return sourcePaid, nil
		case result == models.PaymentPending && s.now().Sub(src.CreatedAt) < s.Payments.sourceTTL():
			st = sourceOpen
		}
	}
	return st, nil
}

// cancel returns nil when the order left the unpaid states in the meantime.
func (s *Sweeper) cancel(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order *models.Order
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		o, err := repo.LockOrder(tx, orderID)
		if err != nil {
			return err
		}
		applied, err := repo.TransitionStatus(tx, o.ID,
			[]models.OrderStatus{models.StatusPending, models.StatusAwaitingPayment},
			models.StatusCancelled, "payment abandoned")
		if err != nil || !applied {
			return err
		}
		if _, err := repo.ExpirePendingSources(tx, o.ID); err != nil {
			return err
		}
		if err := restoreItems(tx, o.Items); err != nil {
			return err
		}
		o.Status = models.StatusCancelled
		order = o
		return nil
	})
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return order, err
}

func (s *Sweeper) afterCancel(ctx context.Context, o models.Order) {
	s.BG.Go(ctx, "order_cancelled_event", func(ctx context.Context) error {
		ev := orderEvent(events.OrderCancelled, &o)
		ev.Data["reason"] = "payment_abandoned"
		return s.Events.Publish(ctx, ev)
	})
	s.BG.Go(ctx, "order_cancelled_notification", func(ctx context.Context) error {
		return s.Notify.Notify(ctx, notify.Notification{
			Kind:    notify.KindOrderCancelled,
			UserID:  o.UserID.String(),
			OrderID: o.ID.String(),
			Params:  map[string]string{"reason": "payment_abandoned"},
		})
	})
}
