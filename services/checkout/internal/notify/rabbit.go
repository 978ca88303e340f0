// Package notify hands customer notifications (email/SMS) to the delivery
// workers over RabbitMQ. Delivery itself happens elsewhere.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange = "notifications"
	queueName       = "notifications.q"
	bindingKey      = "notify.#"
)

const (
	KindOrderConfirmation = "order_confirmation"
	KindPaymentReceipt    = "payment_receipt"
	KindOrderCancelled    = "order_cancelled"
	KindRefundRequested   = "refund_requested"
)

type Notification struct {
	Kind    string            `json:"kind"`
	UserID  string            `json:"user_id"`
	OrderID string            `json:"order_id"`
	Params  map[string]string `json:"params,omitempty"`
	SentAt  time.Time         `json:"sent_at"`
}

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type RabbitNotifier struct {
	ch       channel
	exchange string
}

// Dial opens a connection and channel to the broker.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

// NewRabbitNotifier declares the exchange, queue and binding once at startup.
func NewRabbitNotifier(ch channel, exchange string) (*RabbitNotifier, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, bindingKey, exchange, false, nil); err != nil {
		return nil, fmt.Errorf("queue bind: %w", err)
	}
	return &RabbitNotifier{ch: ch, exchange: exchange}, nil
}

func (n *RabbitNotifier) Notify(ctx context.Context, msg Notification) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.SentAt,
		Type:         msg.Kind,
		Body:         body,
	}
	if err := n.ch.PublishWithContext(ctx, n.exchange, "notify."+msg.Kind, false, false, pub); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Kind, err)
	}
	return nil
}

// Nop drops notifications. Used when no broker is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }
