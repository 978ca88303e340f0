package config

import (
	"time"

	pkgconfig "github.com/Skotchmaster/online_pharmacy/pkg/config"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/gateway"
)

type Config struct {
	pkgconfig.Config

	RatesFile string

	Gateway          gateway.Config
	WebhookSecret    string
	WebhookTolerance time.Duration

	SourceTTL      time.Duration
	AbandonAfter   time.Duration
	SweepInterval  time.Duration
	SweepBatch     int
	IdempotencyTTL time.Duration
	TaskTimeout    time.Duration

	CSRFEnabled  bool
	CookieSecure bool

	InvoiceDir     string
	InvoiceIndex   string
	KafkaTopic     string
	RabbitExchange string
}

func Load() *Config {
	base := pkgconfig.Load()
	if base.ServiceName == "" {
		base.ServiceName = "checkout"
	}

	return &Config{
		Config:    base,
		RatesFile: pkgconfig.EnvDefault("RATES_FILE", "services/checkout/configs/rates.yaml"),

		Gateway: gateway.Config{
			BaseURL:    pkgconfig.EnvDefault("PAYMONGO_BASE_URL", "https://api.paymongo.com"),
			SecretKey:  pkgconfig.EnvDefault("PAYMONGO_SECRET_KEY", ""),
			Currency:   pkgconfig.EnvDefault("PAYMONGO_CURRENCY", "PHP"),
			SuccessURL: pkgconfig.EnvDefault("PAYMENT_SUCCESS_URL", ""),
			FailedURL:  pkgconfig.EnvDefault("PAYMENT_FAILED_URL", ""),
			Timeout:    pkgconfig.EnvDurationDefault("PAYMONGO_TIMEOUT", 10*time.Second),
		},
		WebhookSecret:    pkgconfig.EnvDefault("PAYMONGO_WEBHOOK_SECRET", ""),
		WebhookTolerance: pkgconfig.EnvDurationDefault("PAYMONGO_WEBHOOK_TOLERANCE", 5*time.Minute),

		SourceTTL:      pkgconfig.EnvDurationDefault("SOURCE_TTL", 30*time.Minute),
		AbandonAfter:   pkgconfig.EnvDurationDefault("PAYMENT_ABANDON_AFTER", 24*time.Hour),
		SweepInterval:  pkgconfig.EnvDurationDefault("SWEEP_INTERVAL", 15*time.Minute),
		SweepBatch:     pkgconfig.EnvIntDefault("SWEEP_BATCH", 100),
		IdempotencyTTL: pkgconfig.EnvDurationDefault("IDEMPOTENCY_TTL", 24*time.Hour),
		TaskTimeout:    pkgconfig.EnvDurationDefault("BACKGROUND_TASK_TIMEOUT", 10*time.Second),

		CSRFEnabled:  pkgconfig.EnvBoolDefault("CSRF_ENABLED", true),
		CookieSecure: pkgconfig.EnvBoolDefault("COOKIE_SECURE", false),

		InvoiceDir:     pkgconfig.EnvDefault("INVOICE_DIR", "var/invoices"),
		InvoiceIndex:   pkgconfig.EnvDefault("INVOICE_INDEX", "invoices"),
		KafkaTopic:     pkgconfig.EnvDefault("KAFKA_TOPIC", "order_events"),
		RabbitExchange: pkgconfig.EnvDefault("RABBITMQ_EXCHANGE", "notifications"),
	}
}

// MustValidate stops the process when a setting the serve command cannot
// run without is missing.
func (c *Config) MustValidate() {
	pkgconfig.MustOneOf(c.DatabaseDriver, "DB_DRIVER", "postgres", "mysql")
	pkgconfig.MustNonEmpty(c.DatabaseURL, "DATABASE_URL")
	pkgconfig.MustNonEmptyBytes(c.JWTAccessSecret, "JWT_SECRET")
	pkgconfig.MustNonEmpty(c.Gateway.SecretKey, "PAYMONGO_SECRET_KEY")
	pkgconfig.MustNonEmpty(c.WebhookSecret, "PAYMONGO_WEBHOOK_SECRET")
}
