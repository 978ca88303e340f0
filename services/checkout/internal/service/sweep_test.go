package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/events"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/testdb"
)

func (f *fixture) sweeper(now time.Time) *Sweeper {
	return &Sweeper{
		Repo:         f.repo,
		Payments:     f.payments,
		Events:       f.events,
		Notify:       f.notifier,
		BG:           f.bg,
		AbandonAfter: 24 * time.Hour,
		Now:          func() time.Time { return now },
	}
}

func TestSweep_CancelsAbandonedOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testdb.SeedProduct(t, f.db, "Cefalexin", "150.00", 10)

	neverPaid, err := f.orders.PlaceOrder(ctx, uuid.New(), orderInput(OrderLine{ProductID: p.ID, Quantity: 2}))
	require.NoError(t, err)
	awaiting, src := f.placeAndInitiate(t, uuid.New(), orderInput(OrderLine{ProductID: p.ID, Quantity: 3}))
	require.Equal(t, 5, testdb.Stock(t, f.db, p.ID))

	res, err := f.sweeper(time.Now().UTC().Add(48*time.Hour)).Run(ctx)
	require.NoError(t, err)
	f.bg.Wait()

	assert.Equal(t, SweepResult{Scanned: 2, Cancelled: 2}, res)
	assert.Equal(t, models.StatusCancelled, f.orderStatus(t, neverPaid.ID))
	assert.Equal(t, models.StatusCancelled, f.orderStatus(t, awaiting.ID))
	assert.Equal(t, 10, testdb.Stock(t, f.db, p.ID))
	assert.Equal(t, 2, f.events.count(events.OrderCancelled))

	stored, err := f.repo.GetSource(ctx, src.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentExpired, stored.Result)

	again, err := f.sweeper(time.Now().UTC().Add(48*time.Hour)).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Cancelled)
	assert.Equal(t, 10, testdb.Stock(t, f.db, p.ID))
}

func TestSweep_SettlesLatePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testdb.SeedProduct(t, f.db, "Cefalexin", "150.00", 10)
	o, src := f.placeAndInitiate(t, uuid.New(), orderInput(OrderLine{ProductID: p.ID, Quantity: 1}))
	f.gateway.set(src.ExternalID, models.PaymentPaid)

	res, err := f.sweeper(time.Now().UTC().Add(48*time.Hour)).Run(ctx)
	require.NoError(t, err)
	f.bg.Wait()

	assert.Equal(t, 1, res.Settled)
	assert.Zero(t, res.Cancelled)
	assert.Equal(t, models.StatusPaid, f.orderStatus(t, o.ID))
	assert.Equal(t, 9, testdb.Stock(t, f.db, p.ID))
}

func TestSweep_LeavesRecentOrders(t *testing.T) {
	f := newFixture(t)
	p := testdb.SeedProduct(t, f.db, "Cefalexin", "150.00", 10)
	o, err := f.orders.PlaceOrder(context.Background(), uuid.New(), orderInput(OrderLine{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)

	res, err := f.sweeper(time.Now().UTC()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
	assert.Equal(t, models.StatusPending, f.orderStatus(t, o.ID))
}

func TestSettle_AfterSweepCancelPublishesEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testdb.SeedProduct(t, f.db, "Cefalexin", "150.00", 10)
	o, src := f.placeAndInitiate(t, uuid.New(), orderInput(OrderLine{ProductID: p.ID, Quantity: 1}))

	_, err := f.sweeper(time.Now().UTC().Add(48*time.Hour)).Run(ctx)
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, f.orderStatus(t, o.ID))

	f.gateway.set(src.ExternalID, models.PaymentPaid)
	res, err := f.payments.VerifyAndSettle(ctx, src.ExternalID)
	require.NoError(t, err)
	f.bg.Wait()

	assert.Equal(t, models.PaymentPaid, res)
	assert.Equal(t, models.StatusCancelled, f.orderStatus(t, o.ID))
	assert.Equal(t, 1, f.events.count(events.PaymentUnapplied))
	assert.Zero(t, f.events.count(events.OrderPaid))
}

func TestSweep_SkipsOrderWithPaymentInProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := testdb.SeedProduct(t, f.db, "Cefalexin", "150.00", 10)
	user := uuid.New()
	placed := time.Now().UTC()

	o, err := f.orders.PlaceOrder(ctx, user, orderInput(OrderLine{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)

	// The customer opens a source just before the order turns stale.
	f.payments.Now = func() time.Time { return placed.Add(24*time.Hour - time.Minute) }
	src, err := f.payments.InitiatePayment(ctx, user, o.ID, o.Total, "gcash")
	require.NoError(t, err)

	res, err := f.sweeper(placed.Add(24*time.Hour + time.Minute)).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Skipped: 1}, res)
	assert.Equal(t, models.StatusAwaitingPayment, f.orderStatus(t, o.ID))
	assert.Equal(t, 9, testdb.Stock(t, f.db, p.ID))

	f.gateway.set(src.ExternalID, models.PaymentPaid)
	result, err := f.payments.VerifyAndSettle(ctx, src.ExternalID)
	require.NoError(t, err)
	f.bg.Wait()

	assert.Equal(t, models.PaymentPaid, result)
	assert.Equal(t, models.StatusPaid, f.orderStatus(t, o.ID))
	assert.Zero(t, f.events.count(events.PaymentUnapplied))

	// Once the source outlives its TTL unpaid, the order is fair game again.
	f.payments.Now = nil
	o2, _ := f.placeAndInitiate(t, uuid.New(), orderInput(OrderLine{ProductID: p.ID, Quantity: 1}))
	res, err = f.sweeper(time.Now().UTC().Add(48 * time.Hour)).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cancelled)
	assert.Equal(t, models.StatusCancelled, f.orderStatus(t, o2.ID))
}
