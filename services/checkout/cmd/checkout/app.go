package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Skotchmaster/online_pharmacy/pkg/db"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/config"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/events"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/gateway"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/idempotency"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/invoice"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/notify"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/rates"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/repo"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/service"
)

// app holds the wired services and everything that needs closing.
type app struct {
	db       *gorm.DB
	bg       *service.Background
	orders   *service.OrderService
	payments *service.PaymentService
	coupons  *service.CouponService
	sweeper  *service.Sweeper
	invoices *invoice.ESIndexer

	closers []func() error
}

func openDB(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return db.Open(initCtx, cfg.DatabaseDriver, cfg.DatabaseURL)
}

// buildApp wires the checkout services. Kafka, RabbitMQ, Redis and
// Elasticsearch are optional: when one is not configured its concern is
// disabled and logged, never fatal.
func buildApp(ctx context.Context, cfg *config.Config, l *slog.Logger) (*app, error) {
	gdb, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{db: gdb, bg: &service.Background{Timeout: cfg.TaskTimeout}}
	a.closers = append(a.closers, func() error {
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	book, err := rates.Load(cfg.RatesFile)
	if err != nil {
		a.close(l)
		return nil, err
	}
	l.Info("rates_loaded", "file", cfg.RatesFile, "shipping_methods", book.ShippingMethods())

	var publisher service.EventPublisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		publisher = kp
		a.closers = append(a.closers, kp.Close)
	} else {
		l.Warn("kafka_disabled", "reason", "KAFKA_BROKERS not set")
	}

	var notifier service.Notifier = notify.Nop{}
	if cfg.RabbitURL != "" {
		conn, ch, err := notify.Dial(cfg.RabbitURL)
		if err != nil {
			a.close(l)
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		rn, err := notify.NewRabbitNotifier(ch, cfg.RabbitExchange)
		if err != nil {
			_ = conn.Close()
			a.close(l)
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		notifier = rn
		a.closers = append(a.closers, ch.Close, conn.Close)
	} else {
		l.Warn("notifications_disabled", "reason", "RABBITMQ_URL not set")
	}

	var idem service.IdempotencyStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		idem = idempotency.NewRedisStore(rdb, cfg.IdempotencyTTL)
		a.closers = append(a.closers, rdb.Close)
	} else {
		l.Warn("idempotency_disabled", "reason", "REDIS_ADDR not set")
	}

	r := &repo.GormRepo{DB: gdb}
	emitter := &invoice.Emitter{
		Orders: r,
		Store:  &invoice.LocalStore{Dir: cfg.InvoiceDir},
	}
	if cfg.ESURL != "" {
		es, err := invoice.NewESClient(cfg.ESURL, cfg.ESUser, cfg.ESPassword)
		if err != nil {
			a.close(l)
			return nil, fmt.Errorf("elasticsearch: %w", err)
		}
		a.invoices = &invoice.ESIndexer{ES: es, Index: cfg.InvoiceIndex}
		emitter.Indexer = a.invoices
	} else {
		l.Warn("invoice_index_disabled", "reason", "ES_URL not set")
	}

	a.orders = &service.OrderService{
		Repo:   r,
		Rates:  book,
		Events: publisher,
		Notify: notifier,
		Idem:   idem,
		BG:     a.bg,
	}
	a.payments = &service.PaymentService{
		Repo:      r,
		Gateway:   gateway.NewClient(cfg.Gateway),
		Events:    publisher,
		Notify:    notifier,
		Invoices:  emitter,
		BG:        a.bg,
		SourceTTL: cfg.SourceTTL,
	}
	a.coupons = &service.CouponService{Repo: r}
	a.sweeper = &service.Sweeper{
		Repo:         r,
		Payments:     a.payments,
		Events:       publisher,
		Notify:       notifier,
		BG:           a.bg,
		AbandonAfter: cfg.AbandonAfter,
		BatchSize:    cfg.SweepBatch,
	}
	return a, nil
}

// close drains background work first so nothing publishes into a closed
// client.
func (a *app) close(l *slog.Logger) {
	a.bg.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			l.Warn("close_failed", "error", err)
		}
	}
}

func migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(models.All()...)
}
