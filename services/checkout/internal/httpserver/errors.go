package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/online_pharmacy/pkg/db"
	"github.com/Skotchmaster/online_pharmacy/pkg/money"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/coupon"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/service"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/stock"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/transport"
)

var errUnauthorized = errors.New("unauthorized")

type apiError struct {
	status  int
	reason  string
	message string
	details map[string]any
}

func classify(err error) apiError {
	var (
		verrs  validator.ValidationErrors
		short  *stock.InsufficientStockError
		minErr *coupon.MinimumNotMetError
		badCpn *coupon.InvalidCouponError
	)
	switch {
	case errors.As(err, &verrs):
		fields := make(map[string]any, len(verrs))
		for _, fe := range verrs {
			fields[fe.Namespace()] = fe.Tag()
		}
		return apiError{http.StatusBadRequest, "validation", "invalid request", map[string]any{"fields": fields}}
	case errors.Is(err, service.ErrValidation):
		return apiError{http.StatusBadRequest, "validation", err.Error(), nil}
	case errors.As(err, &short):
		return apiError{http.StatusBadRequest, "insufficient_stock", "insufficient stock", map[string]any{
			"product_id": short.ProductID,
			"requested":  short.Requested,
			"available":  short.Available,
		}}
	case errors.Is(err, stock.ErrProductNotFound):
		return apiError{http.StatusNotFound, "product_not_found", err.Error(), nil}
	case errors.As(err, &minErr):
		return apiError{http.StatusBadRequest, "minimum_not_met", minErr.Error(), map[string]any{
			"minimum_purchase": money.Format(minErr.Minimum),
		}}
	case errors.As(err, &badCpn):
		return apiError{http.StatusBadRequest, "invalid_coupon", "invalid coupon", map[string]any{"detail": badCpn.Reason}}
	case errors.Is(err, service.ErrPrescriptionRequired):
		return apiError{http.StatusBadRequest, "prescription_required", err.Error(), nil}
	case errors.Is(err, service.ErrAmountMismatch):
		return apiError{http.StatusBadRequest, "amount_mismatch", err.Error(), nil}
	case errors.Is(err, service.ErrNotFound):
		return apiError{http.StatusNotFound, "not_found", "not found", nil}
	case errors.Is(err, service.ErrOrderNotCancellable):
		return apiError{http.StatusConflict, "order_not_cancellable", err.Error(), nil}
	case errors.Is(err, service.ErrNotEligibleForRefund):
		return apiError{http.StatusConflict, "not_eligible_for_refund", err.Error(), nil}
	case errors.Is(err, service.ErrInvalidTransition):
		return apiError{http.StatusConflict, "invalid_transition", err.Error(), nil}
	case errors.Is(err, service.ErrOrderNotPayable):
		return apiError{http.StatusConflict, "order_not_payable", err.Error(), nil}
	case errors.Is(err, service.ErrPaymentInProgress):
		return apiError{http.StatusConflict, "payment_in_progress", err.Error(), nil}
	case errors.Is(err, service.ErrDuplicateRequest):
		return apiError{http.StatusConflict, "duplicate_request", err.Error(), nil}
	case errors.Is(err, service.ErrConflict):
		return apiError{http.StatusConflict, "conflict", err.Error(), nil}
	case errors.Is(err, service.ErrGateway):
		return apiError{http.StatusBadGateway, "gateway_unavailable", "payment gateway unavailable", nil}
	case db.IsRetryable(err):
		return apiError{http.StatusServiceUnavailable, "retry", "temporarily unavailable, retry the request", nil}
	case errors.Is(err, errUnauthorized):
		return apiError{http.StatusUnauthorized, "unauthorized", "unauthorized", nil}
	default:
		return apiError{http.StatusInternalServerError, "internal", "internal error", nil}
	}
}

// fail logs err under "<op>_error" and writes the matching response.
// Server-side failures never echo the error text to the client.
func fail(c echo.Context, l *slog.Logger, op string, err error) error {
	ae := classify(err)
	if ae.status >= http.StatusInternalServerError {
		l.Error(op+"_error", "status", ae.status, "reason", ae.reason, "error", err)
		return echo.NewHTTPError(ae.status, ae.message)
	}
	l.Warn(op+"_error", "status", ae.status, "reason", ae.reason, "error", err)
	return c.JSON(ae.status, transport.ErrorResponse{Error: ae.message, Reason: ae.reason, Details: ae.details})
}

// bind decodes and validates the request body.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return fmt.Errorf("%w: invalid body", service.ErrValidation)
	}
	return c.Validate(req)
}

func GetID(c echo.Context) (uuid.UUID, error) {
	s, ok := c.Get("user_id").(string)
	if !ok || s == "" {
		return uuid.Nil, errUnauthorized
	}
	userID, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errUnauthorized
	}
	return userID, nil
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s must be a uuid", service.ErrValidation, name)
	}
	return id, nil
}
