package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusAwaitingPayment OrderStatus = "awaiting_payment"
	StatusPaid            OrderStatus = "paid"
	StatusProcessing      OrderStatus = "processing"
	StatusCompleted       OrderStatus = "completed"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRefundRequested OrderStatus = "refund_requested"
	StatusRefunded        OrderStatus = "refunded"
)

// adminTransitions are the fulfillment moves an operator may apply by hand.
// Payment, cancellation and refund requests have their own entry points.
var adminTransitions = map[OrderStatus][]OrderStatus{
	StatusPaid:            {StatusProcessing},
	StatusProcessing:      {StatusCompleted},
	StatusRefundRequested: {StatusRefunded},
}

func CanAdminTransition(from, to OrderStatus) bool {
	for _, s := range adminTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type PaymentResult string

const (
	PaymentPending PaymentResult = "pending"
	PaymentPaid    PaymentResult = "paid"
	PaymentFailed  PaymentResult = "failed"
	PaymentExpired PaymentResult = "expired"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type Product struct {
	ID                   uuid.UUID       `gorm:"type:varchar(36);primaryKey"                   json:"id"`
	Name                 string          `gorm:"not null"                                      json:"name"`
	Price                decimal.Decimal `gorm:"type:decimal(12,2);not null"                   json:"price"`
	StockQuantity        int             `gorm:"not null;default:0;check:stock_quantity >= 0"  json:"stock_quantity"`
	ReorderThreshold     int             `gorm:"not null;default:0"                            json:"reorder_threshold"`
	RequiresPrescription bool            `gorm:"not null"                                      json:"requires_prescription"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

type ShippingAddress struct {
	Street     string `gorm:"not null" json:"street"`
	City       string `gorm:"not null" json:"city"`
	State      string `json:"state"`
	Country    string `gorm:"not null" json:"country"`
	PostalCode string `json:"postal_code"`
}

type Order struct {
	ID              uuid.UUID       `gorm:"type:varchar(36);primaryKey"                    json:"id"`
	UserID          uuid.UUID       `gorm:"type:varchar(36);index;not null"                json:"user_id"`
	Status          OrderStatus     `gorm:"type:varchar(32);index;not null"                json:"status"`
	Subtotal        decimal.Decimal `gorm:"type:decimal(12,2);not null"                    json:"subtotal"`
	DiscountAmount  decimal.Decimal `gorm:"type:decimal(12,2);not null"                    json:"discount_amount"`
	TaxAmount       decimal.Decimal `gorm:"type:decimal(12,2);not null"                    json:"tax_amount"`
	ShippingCost    decimal.Decimal `gorm:"type:decimal(12,2);not null"                    json:"shipping_cost"`
	Total           decimal.Decimal `gorm:"type:decimal(12,2);not null;check:total >= 0"   json:"total"`
	ShippingAddress ShippingAddress `gorm:"embedded;embeddedPrefix:shipping_"              json:"shipping_address"`
	ShippingMethod  string          `gorm:"type:varchar(32);not null"                      json:"shipping_method"`
	PaymentMethod   string          `gorm:"type:varchar(32);not null"                      json:"payment_method"`
	CouponCode      *string         `gorm:"type:varchar(64)"                               json:"coupon_code,omitempty"`
	CouponID        *uuid.UUID      `gorm:"type:varchar(36)"                               json:"-"`
	Items           []OrderItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	CreatedAt       time.Time       `gorm:"index"                                          json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ID             uuid.UUID       `gorm:"type:varchar(36);primaryKey"          json:"id"`
	OrderID        uuid.UUID       `gorm:"type:varchar(36);index;not null"      json:"order_id"`
	ProductID      uuid.UUID       `gorm:"type:varchar(36);index;not null"      json:"product_id"`
	Quantity       int             `gorm:"not null;check:quantity > 0"          json:"quantity"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(12,2);not null"          json:"unit_price"`
	PrescriptionID *string         `gorm:"type:varchar(64)"                     json:"prescription_id,omitempty"`
}

type Coupon struct {
	ID                uuid.UUID           `gorm:"type:varchar(36);primaryKey"          json:"id"`
	Code              string              `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	DiscountType      DiscountType        `gorm:"type:varchar(16);not null"            json:"discount_type"`
	DiscountValue     decimal.Decimal     `gorm:"type:decimal(12,2);not null"          json:"discount_value"`
	MinPurchaseAmount decimal.NullDecimal `gorm:"type:decimal(12,2)"                   json:"min_purchase_amount"`
	MaxDiscountAmount decimal.NullDecimal `gorm:"type:decimal(12,2)"                   json:"max_discount_amount"`
	StartDate         time.Time           `gorm:"not null"                             json:"start_date"`
	EndDate           time.Time           `gorm:"not null"                             json:"end_date"`
	UsageLimit        *int                `json:"usage_limit"`
	UsedCount         int                 `gorm:"not null;default:0"                   json:"used_count"`
	IsActive          bool                `gorm:"not null"                             json:"is_active"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

type PaymentSource struct {
	ID          uuid.UUID       `gorm:"type:varchar(36);primaryKey"            json:"id"`
	OrderID     uuid.UUID       `gorm:"type:varchar(36);index;not null"        json:"order_id"`
	ExternalID  string          `gorm:"type:varchar(128);uniqueIndex;not null" json:"source_id"`
	Amount      decimal.Decimal `gorm:"type:decimal(12,2);not null"            json:"amount"`
	Method      string          `gorm:"type:varchar(32);not null"              json:"method"`
	CheckoutURL string          `gorm:"not null"                               json:"checkout_url"`
	Result      PaymentResult   `gorm:"type:varchar(16);index;not null"        json:"result"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type OrderStatusChange struct {
	ID         uuid.UUID   `gorm:"type:varchar(36);primaryKey"     json:"id"`
	OrderID    uuid.UUID   `gorm:"type:varchar(36);index;not null" json:"order_id"`
	FromStatus OrderStatus `gorm:"type:varchar(32)"                json:"from_status"`
	ToStatus   OrderStatus `gorm:"type:varchar(32);not null"       json:"to_status"`
	Reason     string      `json:"reason"`
	CreatedAt  time.Time   `json:"created_at"`
}

type RefundStatus string

const (
	RefundRequested RefundStatus = "requested"
	RefundRefunded  RefundStatus = "refunded"
)

type Refund struct {
	ID        uuid.UUID    `gorm:"type:varchar(36);primaryKey"           json:"id"`
	OrderID   uuid.UUID    `gorm:"type:varchar(36);uniqueIndex;not null" json:"order_id"`
	UserID    uuid.UUID    `gorm:"type:varchar(36);not null"             json:"user_id"`
	Reason    string       `gorm:"not null"                              json:"reason"`
	Status    RefundStatus `gorm:"type:varchar(16);not null"             json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func newID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (p *Product) BeforeCreate(tx *gorm.DB) error           { newID(&p.ID); return nil }
func (o *Order) BeforeCreate(tx *gorm.DB) error             { newID(&o.ID); return nil }
func (i *OrderItem) BeforeCreate(tx *gorm.DB) error         { newID(&i.ID); return nil }
func (c *Coupon) BeforeCreate(tx *gorm.DB) error            { newID(&c.ID); return nil }
func (s *PaymentSource) BeforeCreate(tx *gorm.DB) error     { newID(&s.ID); return nil }
func (s *OrderStatusChange) BeforeCreate(tx *gorm.DB) error { newID(&s.ID); return nil }
func (r *Refund) BeforeCreate(tx *gorm.DB) error            { newID(&r.ID); return nil }

func (Product) TableName() string           { return "products" }
func (Order) TableName() string             { return "orders" }
func (OrderItem) TableName() string         { return "order_items" }
func (Coupon) TableName() string            { return "coupons" }
func (PaymentSource) TableName() string     { return "payment_sources" }
func (OrderStatusChange) TableName() string { return "order_status_changes" }
func (Refund) TableName() string            { return "refunds" }

// All lists every table owned by the checkout service, in migration order.
func All() []any {
	return []any{
		&Product{},
		&Coupon{},
		&Order{},
		&OrderItem{},
		&PaymentSource{},
		&OrderStatusChange{},
		&Refund{},
	}
}
