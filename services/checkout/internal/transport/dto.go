package transport

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/online_pharmacy/pkg/money"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/invoice"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
)

type ErrorResponse struct {
	Error   string         `json:"error"`
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details,omitempty"`
}

type ShippingAddress struct {
	Street     string `json:"street"      validate:"required,max=255"`
	City       string `json:"city"        validate:"required,max=128"`
	State      string `json:"state"       validate:"omitempty,max=128"`
	Country    string `json:"country"     validate:"required,max=64"`
	PostalCode string `json:"postal_code" validate:"omitempty,max=16"`
}

type OrderItemRequest struct {
	ProductID      uuid.UUID `json:"product_id"                validate:"required"`
	Quantity       int       `json:"quantity"                  validate:"required,min=1,max=1000"`
	PrescriptionID string    `json:"prescription_id,omitempty" validate:"omitempty,max=64"`
}

type PlaceOrderRequest struct {
	Items           []OrderItemRequest `json:"items"                 validate:"required,min=1,max=100,dive"`
	ShippingAddress ShippingAddress    `json:"shipping_address"`
	ShippingMethod  string             `json:"shipping_method"       validate:"required,max=32"`
	PaymentMethod   string             `json:"payment_method"        validate:"required,max=32"`
	CouponCode      string             `json:"coupon_code,omitempty" validate:"omitempty,max=64"`
}

type RefundRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=processing completed refunded"`
	Reason string `json:"reason" validate:"omitempty,max=255"`
}

type OrderItemResponse struct {
	ProductID      uuid.UUID `json:"product_id"`
	Quantity       int       `json:"quantity"`
	UnitPrice      string    `json:"unit_price"`
	PrescriptionID *string   `json:"prescription_id,omitempty"`
}

type OrderResponse struct {
	OrderID         uuid.UUID              `json:"order_id"`
	Status          models.OrderStatus     `json:"status"`
	Subtotal        string                 `json:"subtotal"`
	DiscountAmount  string                 `json:"discount_amount"`
	ShippingCost    string                 `json:"shipping_cost"`
	TaxAmount       string                 `json:"tax_amount"`
	Total           string                 `json:"total"`
	CouponCode      *string                `json:"coupon_code,omitempty"`
	ShippingAddress models.ShippingAddress `json:"shipping_address"`
	ShippingMethod  string                 `json:"shipping_method"`
	PaymentMethod   string                 `json:"payment_method"`
	Items           []OrderItemResponse    `json:"items,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

func NewOrderResponse(o *models.Order) OrderResponse {
	resp := OrderResponse{
		OrderID:         o.ID,
		Status:          o.Status,
		Subtotal:        money.Format(o.Subtotal),
		DiscountAmount:  money.Format(o.DiscountAmount),
		ShippingCost:    money.Format(o.ShippingCost),
		TaxAmount:       money.Format(o.TaxAmount),
		Total:           money.Format(o.Total),
		CouponCode:      o.CouponCode,
		ShippingAddress: o.ShippingAddress,
		ShippingMethod:  o.ShippingMethod,
		PaymentMethod:   o.PaymentMethod,
		CreatedAt:       o.CreatedAt,
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			ProductID:      it.ProductID,
			Quantity:       it.Quantity,
			UnitPrice:      money.Format(it.UnitPrice),
			PrescriptionID: it.PrescriptionID,
		})
	}
	return resp
}

type OrderListResponse struct {
	Items    []OrderResponse `json:"items"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

type RefundResponse struct {
	RefundID uuid.UUID           `json:"refund_id"`
	OrderID  uuid.UUID           `json:"order_id"`
	Status   models.RefundStatus `json:"status"`
	Reason   string              `json:"reason"`
}

type CreateSourceRequest struct {
	OrderID uuid.UUID       `json:"order_id" validate:"required"`
	Amount  decimal.Decimal `json:"amount"`
	Method  string          `json:"method"   validate:"required,oneof=gcash grab_pay"`
}

type CreateSourceResponse struct {
	SourceID    string `json:"source_id"`
	CheckoutURL string `json:"checkout_url"`
	Amount      string `json:"amount"`
}

type VerifyRequest struct {
	SourceID string `json:"source_id" validate:"required,max=128"`
}

type VerifyResponse struct {
	SourceID string               `json:"source_id"`
	Status   models.PaymentResult `json:"status"`
}

type ValidateCouponRequest struct {
	Code        string          `json:"code"         validate:"required,max=64"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type CouponPreview struct {
	Code           string              `json:"code"`
	DiscountType   models.DiscountType `json:"discount_type"`
	DiscountValue  string              `json:"discount_value"`
	DiscountAmount string              `json:"discount_amount"`
}

type ValidateCouponResponse struct {
	Valid  bool          `json:"valid"`
	Coupon CouponPreview `json:"coupon"`
}

type CreateCouponRequest struct {
	Code              string              `json:"code"                validate:"required,max=64"`
	DiscountType      string              `json:"discount_type"       validate:"required,oneof=percentage fixed"`
	DiscountValue     decimal.Decimal     `json:"discount_value"`
	MinPurchaseAmount decimal.NullDecimal `json:"min_purchase_amount"`
	MaxDiscountAmount decimal.NullDecimal `json:"max_discount_amount"`
	StartDate         time.Time           `json:"start_date"          validate:"required"`
	EndDate           time.Time           `json:"end_date"            validate:"required,gtfield=StartDate"`
	UsageLimit        *int                `json:"usage_limit"         validate:"omitempty,min=0"`
	IsActive          *bool               `json:"is_active"`
}

type InvoiceSearchResponse struct {
	Items    []invoice.Document `json:"items"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
}
