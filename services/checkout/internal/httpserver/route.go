package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	middleware "github.com/Skotchmaster/online_pharmacy/pkg/middleware/auth"
	"github.com/Skotchmaster/online_pharmacy/pkg/middleware/metrics"
)

type Deps struct {
	Orders   *OrderHTTP
	Payments *PaymentHTTP
	Coupons  *CouponHTTP
	// Invoices is nil when no search index is configured.
	Invoices *InvoiceHTTP

	JWTSecret  []byte
	AuthClient middleware.Refresher
	// Ready reports whether dependencies (the database) are reachable.
	Ready func() error
}

func Register(e *echo.Echo, d *Deps) {
	e.Validator = NewRequestValidator()

	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready != nil {
			if err := d.Ready(); err != nil {
				return c.NoContent(http.StatusServiceUnavailable)
			}
		}
		return c.NoContent(http.StatusOK)
	})
	e.GET("/metrics", metrics.Handler())

	authMW := middleware.NewAutoRefreshMiddleware(d.JWTSecret, d.AuthClient)

	orders := e.Group("/orders", authMW.RequireAuth)
	orders.POST("", d.Orders.PlaceOrder)
	orders.GET("", d.Orders.ListOrders)
	orders.GET("/:id", d.Orders.GetOrder)
	orders.POST("/:id/cancel", d.Orders.CancelOrder)
	orders.POST("/:id/refund", d.Orders.RequestRefund)

	// The webhook authenticates by signature, not by user token.
	e.POST("/payments/webhook", d.Payments.Webhook)
	payments := e.Group("/payments", authMW.RequireAuth)
	payments.POST("/create-source", d.Payments.CreateSource)
	payments.POST("/verify", d.Payments.Verify)

	coupons := e.Group("/coupons", authMW.RequireAuth)
	coupons.POST("/validate", d.Coupons.Validate)

	admin := e.Group("/admin", authMW.RequireAdmin)
	admin.PATCH("/orders/:id/status", d.Orders.UpdateStatus)
	admin.POST("/coupons", d.Coupons.Create)
	if d.Invoices != nil {
		admin.GET("/invoices", d.Invoices.Search)
	}
}
