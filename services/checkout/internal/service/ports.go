package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/events"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/gateway"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/notify"
)

type EventPublisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

type PaymentGateway interface {
	CreateSource(ctx context.Context, amount decimal.Decimal, method, reference string) (*gateway.Source, error)
	Resolve(ctx context.Context, sourceID string) (models.PaymentResult, error)
}

type InvoiceEmitter interface {
	Emit(ctx context.Context, orderID uuid.UUID) (string, error)
}

type RateBook interface {
	TaxRate(country, state string) decimal.Decimal
	ShippingCost(method string) (decimal.Decimal, error)
}

type IdempotencyStore interface {
	TryLock(ctx context.Context, scope, key string) (bool, error)
	Release(ctx context.Context, scope, key string) error
	Remember(ctx context.Context, scope, key, value string) error
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}
