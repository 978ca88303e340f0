package httpserver

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/online_pharmacy/pkg/logging"
	"github.com/Skotchmaster/online_pharmacy/pkg/money"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/gateway"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/service"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/transport"
)

const maxWebhookBody = 1 << 20

type PaymentHTTP struct {
	Svc              *service.PaymentService
	WebhookSecret    string
	WebhookTolerance time.Duration
}

func (h *PaymentHTTP) CreateSource(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "payment.create_source")

	userID, err := GetID(c)
	if err != nil {
		return fail(c, l, "create_source", err)
	}
	var req transport.CreateSourceRequest
	if err := bind(c, &req); err != nil {
		return fail(c, l, "create_source", err)
	}

	src, err := h.Svc.InitiatePayment(ctx, userID, req.OrderID, req.Amount, req.Method)
	if err != nil {
		return fail(c, l, "create_source", err)
	}

	l.Info("create_source_success", "order_id", req.OrderID, "source_id", src.ExternalID)
	return c.JSON(http.StatusCreated, transport.CreateSourceResponse{
		SourceID:    src.ExternalID,
		CheckoutURL: src.CheckoutURL,
		Amount:      money.Format(src.Amount),
	})
}

func (h *PaymentHTTP) Verify(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "payment.verify")

	var req transport.VerifyRequest
	if err := bind(c, &req); err != nil {
		return fail(c, l, "verify_payment", err)
	}

	result, err := h.Svc.VerifyAndSettle(ctx, req.SourceID)
	if err != nil {
		return fail(c, l, "verify_payment", err)
	}
	return c.JSON(http.StatusOK, transport.VerifyResponse{SourceID: req.SourceID, Status: result})
}

// Webhook accepts gateway callbacks. The payload only names the source; its
// status is always re-read from the gateway.
func (h *PaymentHTTP) Webhook(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "payment.webhook")

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		l.Warn("webhook_error", "status", 400, "reason", "unreadable body", "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	sig := c.Request().Header.Get(gateway.SignatureHeader)
	if err := gateway.VerifySignature(h.WebhookSecret, sig, body, h.WebhookTolerance, time.Now()); err != nil {
		l.Warn("webhook_error", "status", 401, "reason", "bad signature", "error", err)
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	ev, err := gateway.ParseEvent(body)
	if err != nil {
		// Acknowledge so the gateway stops retrying events we do not track.
		l.Info("webhook_ignored", "error", err)
		return c.NoContent(http.StatusOK)
	}

	result, err := h.Svc.HandleWebhook(ctx, ev)
	if err != nil {
		return fail(c, l, "webhook", err)
	}
	return c.JSON(http.StatusOK, transport.VerifyResponse{SourceID: ev.SourceID, Status: result})
}
