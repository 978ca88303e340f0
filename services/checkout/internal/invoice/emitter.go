// Package invoice renders a paid order into an invoice document, stores it
// and indexes its metadata for lookup.
package invoice

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/online_pharmacy/pkg/money"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
)

type OrderReader interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

type Indexer interface {
	Index(ctx context.Context, doc Document) error
}

// Document is the searchable metadata kept for every invoice.
type Document struct {
	Number   string    `json:"number"`
	OrderID  string    `json:"order_id"`
	UserID   string    `json:"user_id"`
	Total    string    `json:"total"`
	Path     string    `json:"path"`
	IssuedAt time.Time `json:"issued_at"`
}

type Emitter struct {
	Orders  OrderReader
	Store   BlobStore
	Indexer Indexer
	Now     func() time.Time
}

var tmpl = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"amt": money.Format,
}).Parse(`INVOICE {{.Number}}
Issued: {{.Issued.Format "2006-01-02 15:04 MST"}}
Order:  {{.Order.ID}}

Ship to:
  {{.Order.ShippingAddress.Street}}
  {{.Order.ShippingAddress.City}}{{with .Order.ShippingAddress.State}}, {{.}}{{end}} {{.Order.ShippingAddress.PostalCode}}
  {{.Order.ShippingAddress.Country}}

Items:
{{range .Order.Items}}  {{.ProductID}}  x{{.Quantity}}  @ {{amt .UnitPrice}}
{{end}}
Subtotal:  {{amt .Order.Subtotal}}
Discount: -{{amt .Order.DiscountAmount}}{{with .Coupon}} ({{.}}){{end}}
Shipping:  {{amt .Order.ShippingCost}} ({{.Order.ShippingMethod}})
Tax:       {{amt .Order.TaxAmount}}
TOTAL:     {{amt .Order.Total}}
Paid via:  {{.Order.PaymentMethod}}
`))

func Number(orderID uuid.UUID, issued time.Time) string {
	return fmt.Sprintf("INV-%s-%s", issued.Format("20060102"), strings.ToUpper(orderID.String()[:8]))
}

// Emit renders, stores and indexes the invoice for a paid order and returns
// the stored document path. Indexing failures are returned after the
// document has been stored.
func (e *Emitter) Emit(ctx context.Context, orderID uuid.UUID) (string, error) {
	order, err := e.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("load order: %w", err)
	}
	switch order.Status {
	case models.StatusPaid, models.StatusProcessing, models.StatusCompleted:
	default:
		return "", fmt.Errorf("order %s is %s, invoices are issued for paid orders", orderID, order.Status)
	}

	now := time.Now().UTC()
	if e.Now != nil {
		now = e.Now()
	}
	number := Number(order.ID, now)

	var coupon string
	if order.CouponCode != nil {
		coupon = *order.CouponCode
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct {
		Number string
		Issued time.Time
		Coupon string
		Order  *models.Order
	}{number, now, coupon, order}); err != nil {
		return "", fmt.Errorf("render invoice: %w", err)
	}

	key := path.Join(now.Format("2006/01"), number+".txt")
	stored, err := e.Store.Put(ctx, key, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("store invoice: %w", err)
	}

	if e.Indexer != nil {
		doc := Document{
			Number:   number,
			OrderID:  order.ID.String(),
			UserID:   order.UserID.String(),
			Total:    money.Format(order.Total),
			Path:     stored,
			IssuedAt: now,
		}
		if err := e.Indexer.Index(ctx, doc); err != nil {
			return stored, fmt.Errorf("index invoice: %w", err)
		}
	}
	return stored, nil
}
