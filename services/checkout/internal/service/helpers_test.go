package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/events"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/gateway"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/notify"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/rates"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/repo"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/testdb"
)

type recordingEvents struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recordingEvents) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
	return nil
}

func (r *recordingEvents) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.evs {
		if ev.Type == kind {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	results   map[string]models.PaymentResult
	createErr error
	resolved  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{results: make(map[string]models.PaymentResult)}
}

func (g *fakeGateway) CreateSource(_ context.Context, _ decimal.Decimal, _, _ string) (*gateway.Source, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.seq++
	id := fmt.Sprintf("src_%d", g.seq)
	return &gateway.Source{ID: id, Status: gateway.SourcePending, CheckoutURL: "https://pay.example/" + id}, nil
}

func (g *fakeGateway) Resolve(_ context.Context, id string) (models.PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resolved++
	if r, ok := g.results[id]; ok {
		return r, nil
	}
	return models.PaymentPending, nil
}

func (g *fakeGateway) set(id string, r models.PaymentResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[id] = r
}

type countingInvoices struct {
	mu      sync.Mutex
	emitted []uuid.UUID
}

func (c *countingInvoices) Emit(_ context.Context, id uuid.UUID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, id)
	return "invoices/" + id.String() + ".txt", nil
}

type fixture struct {
	db       *gorm.DB
	repo     *repo.GormRepo
	events   *recordingEvents
	notifier *recordingNotifier
	gateway  *fakeGateway
	invoices *countingInvoices
	bg       *Background
	orders   *OrderService
	payments *PaymentService
	coupons  *CouponService
}

func testRates() *rates.Book {
	return rates.New(
		decimal.NewFromInt(12),
		map[string]decimal.Decimal{"PH": decimal.NewFromInt(12)},
		nil,
		map[string]decimal.Decimal{"standard": decimal.NewFromInt(50), "pickup": decimal.Zero},
	)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testdb.Open(t)
	f := &fixture{
		db:       db,
		repo:     &repo.GormRepo{DB: db},
		events:   &recordingEvents{},
		notifier: &recordingNotifier{},
		gateway:  newFakeGateway(),
		invoices: &countingInvoices{},
		bg:       &Background{Timeout: time.Second},
	}
	f.orders = &OrderService{
		Repo:   f.repo,
		Rates:  testRates(),
		Events: f.events,
		Notify: f.notifier,
		BG:     f.bg,
	}
	f.payments = &PaymentService{
		Repo:      f.repo,
		Gateway:   f.gateway,
		Events:    f.events,
		Notify:    f.notifier,
		Invoices:  f.invoices,
		BG:        f.bg,
		SourceTTL: 30 * time.Minute,
	}
	f.coupons = &CouponService{Repo: f.repo}
	return f
}

func manila() models.ShippingAddress {
	return models.ShippingAddress{Street: "1 Rizal Ave", City: "Manila", State: "NCR", Country: "PH", PostalCode: "1000"}
}

func orderInput(lines ...OrderLine) PlaceOrderInput {
	return PlaceOrderInput{
		Items:           lines,
		ShippingAddress: manila(),
		ShippingMethod:  "standard",
		PaymentMethod:   "gcash",
	}
}

func (f *fixture) seedCoupon(t *testing.T, c models.Coupon) *models.Coupon {
	t.Helper()
	if c.StartDate.IsZero() {
		c.StartDate = time.Now().UTC().Add(-time.Hour)
	}
	if c.EndDate.IsZero() {
		c.EndDate = time.Now().UTC().Add(24 * time.Hour)
	}
	c.IsActive = true
	require.NoError(t, f.repo.CreateCoupon(context.Background(), &c))
	return &c
}

func (f *fixture) orderStatus(t *testing.T, id uuid.UUID) models.OrderStatus {
	t.Helper()
	o, err := f.repo.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func (f *fixture) countRows(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func (f *fixture) transitionsTo(t *testing.T, orderID uuid.UUID, to models.OrderStatus) int {
	t.Helper()
	changes, err := f.repo.StatusChanges(context.Background(), orderID)
	require.NoError(t, err)
	n := 0
	for _, c := range changes {
		if c.ToStatus == to {
			n++
		}
	}
	return n
}

// placeAndInitiate places a one-line order and opens a payment source for it.
func (f *fixture) placeAndInitiate(t *testing.T, user uuid.UUID, in PlaceOrderInput) (*models.Order, *models.PaymentSource) {
	t.Helper()
	ctx := context.Background()
	o, err := f.orders.PlaceOrder(ctx, user, in)
	require.NoError(t, err)
	src, err := f.payments.InitiatePayment(ctx, user, o.ID, o.Total, "gcash")
	require.NoError(t, err)
	return o, src
}
