package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/testdb"
)

func newOrder(userID uuid.UUID, status models.OrderStatus) *models.Order {
	return &models.Order{
		UserID:          userID,
		Status:          status,
		Subtotal:        decimal.NewFromInt(100),
		DiscountAmount:  decimal.Zero,
		TaxAmount:       decimal.NewFromInt(12),
		ShippingCost:    decimal.Zero,
		Total:           decimal.NewFromInt(112),
		ShippingAddress: models.ShippingAddress{Street: "1 Rizal Ave", City: "Manila", Country: "PH"},
		ShippingMethod:  "standard",
		PaymentMethod:   "gcash",
		Items: []models.OrderItem{
			{ProductID: uuid.New(), Quantity: 2, UnitPrice: decimal.NewFromInt(50)},
		},
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	db := testdb.Open(t)
	r := &GormRepo{DB: db}
	ctx := context.Background()
	user := uuid.New()

	o := newOrder(user, models.StatusPending)
	require.NoError(t, r.InTx(ctx, func(tx *gorm.DB) error { return CreateOrder(tx, o) }))

	got, err := r.GetUserOrder(ctx, o.ID, user)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, o.ID, got.Items[0].OrderID)
	assert.Equal(t, "112.00", got.Total.StringFixed(2))
	assert.Equal(t, "Manila", got.ShippingAddress.City)

	_, err = r.GetUserOrder(ctx, o.ID, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	list, total, err := r.ListOrders(ctx, user, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, list, 1)
}

func TestTransitionStatus_WritesOneAuditRowPerTransition(t *testing.T) {
	db := testdb.Open(t)
	r := &GormRepo{DB: db}
	ctx := context.Background()

	o := newOrder(uuid.New(), models.StatusAwaitingPayment)
	require.NoError(t, db.Create(o).Error)

	for i := 0; i < 2; i++ {
		var applied bool
		require.NoError(t, r.InTx(ctx, func(tx *gorm.DB) error {
			var err error
			applied, err = TransitionStatus(tx, o.ID, []models.OrderStatus{models.StatusAwaitingPayment}, models.StatusPaid, "payment settled")
			return err
		}))
		assert.Equal(t, i == 0, applied)
	}

	changes, err := r.StatusChanges(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, models.StatusAwaitingPayment, changes[0].FromStatus)
	assert.Equal(t, models.StatusPaid, changes[0].ToStatus)

	_, err = TransitionStatus(db, uuid.New(), []models.OrderStatus{models.StatusPending}, models.StatusCancelled, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettleSource_OnlyFromOpenResults(t *testing.T) {
	db := testdb.Open(t)
	r := &GormRepo{DB: db}
	ctx := context.Background()

	src := &models.PaymentSource{
		OrderID:     uuid.New(),
		ExternalID:  "src_1",
		Amount:      decimal.NewFromInt(112),
		Method:      "gcash",
		CheckoutURL: "https://pay.example/src_1",
		Result:      models.PaymentPending,
	}
	require.NoError(t, CreatePaymentSource(db, src))

	pending, err := r.Sources(ctx, src.OrderID, models.PaymentPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	n, err := ExpirePendingSources(db, src.OrderID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	open := []models.PaymentResult{models.PaymentPending, models.PaymentExpired}
	ok, err := SettleSource(db, "src_1", open, models.PaymentPaid)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = SettleSource(db, "src_1", open, models.PaymentFailed)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := r.GetSource(ctx, "src_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, got.Result)

	_, err = r.GetSource(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListStale(t *testing.T) {
	db := testdb.Open(t)
	r := &GormRepo{DB: db}
	ctx := context.Background()

	old := newOrder(uuid.New(), models.StatusAwaitingPayment)
	old.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	fresh := newOrder(uuid.New(), models.StatusPending)
	paid := newOrder(uuid.New(), models.StatusPaid)
	paid.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, db.Create(old).Error)
	require.NoError(t, db.Create(fresh).Error)
	require.NoError(t, db.Create(paid).Error)

	stale, err := r.ListStale(ctx, time.Now().UTC().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func TestCreateCoupon_Duplicate(t *testing.T) {
	db := testdb.Open(t)
	r := &GormRepo{DB: db}
	ctx := context.Background()

	c := func() *models.Coupon {
		return &models.Coupon{
			Code:          "WELCOME",
			DiscountType:  models.DiscountFixed,
			DiscountValue: decimal.NewFromInt(50),
			StartDate:     time.Now().UTC(),
			EndDate:       time.Now().UTC().Add(time.Hour),
			IsActive:      true,
		}
	}
	require.NoError(t, r.CreateCoupon(ctx, c()))
	assert.ErrorIs(t, r.CreateCoupon(ctx, c()), gorm.ErrDuplicatedKey)
}
