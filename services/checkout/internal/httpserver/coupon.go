package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/online_pharmacy/pkg/logging"
	"github.com/Skotchmaster/online_pharmacy/pkg/money"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/coupon"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/service"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/transport"
)

type CouponHTTP struct {
	Svc *service.CouponService
}

func (h *CouponHTTP) Validate(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "coupon.validate")

	var req transport.ValidateCouponRequest
	if err := bind(c, &req); err != nil {
		return fail(c, l, "validate_coupon", err)
	}

	res, err := h.Svc.Validate(ctx, req.Code, req.TotalAmount)
	var invalid *coupon.InvalidCouponError
	if errors.As(err, &invalid) {
		l.Warn("validate_coupon_error", "status", 404, "reason", "invalid_coupon", "detail", invalid.Reason)
		return c.JSON(http.StatusNotFound, transport.ErrorResponse{
			Error:   "invalid coupon",
			Reason:  "invalid_coupon",
			Details: map[string]any{"detail": invalid.Reason},
		})
	}
	if err != nil {
		return fail(c, l, "validate_coupon", err)
	}

	return c.JSON(http.StatusOK, transport.ValidateCouponResponse{
		Valid: true,
		Coupon: transport.CouponPreview{
			Code:           res.Coupon.Code,
			DiscountType:   res.Coupon.DiscountType,
			DiscountValue:  money.Format(res.Coupon.DiscountValue),
			DiscountAmount: money.Format(res.DiscountAmount),
		},
	})
}

func (h *CouponHTTP) Create(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.coupon.create")

	var req transport.CreateCouponRequest
	if err := bind(c, &req); err != nil {
		return fail(c, l, "create_coupon", err)
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	created, err := h.Svc.Create(ctx, service.CreateCouponInput{
		Code:              req.Code,
		DiscountType:      models.DiscountType(req.DiscountType),
		DiscountValue:     req.DiscountValue,
		MinPurchaseAmount: req.MinPurchaseAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		UsageLimit:        req.UsageLimit,
		IsActive:          active,
	})
	if err != nil {
		return fail(c, l, "create_coupon", err)
	}

	l.Info("create_coupon_success", "code", created.Code)
	return c.JSON(http.StatusCreated, created)
}
