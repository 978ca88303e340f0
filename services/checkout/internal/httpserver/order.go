package httpserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/online_pharmacy/pkg/logging"
	"github.com/Skotchmaster/online_pharmacy/pkg/pagination"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/service"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/transport"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type OrderHTTP struct {
	Svc *service.OrderService
}

func (h *OrderHTTP) PlaceOrder(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.place")

	userID, err := GetID(c)
	if err != nil {
		return fail(c, l, "place_order", err)
	}

	var req transport.PlaceOrderRequest
	if err := bind(c, &req); err != nil {
		return fail(c, l, "place_order", err)
	}

	in := service.PlaceOrderInput{
		ShippingAddress: models.ShippingAddress(req.ShippingAddress),
		ShippingMethod:  req.ShippingMethod,
		PaymentMethod:   req.PaymentMethod,
		CouponCode:      req.CouponCode,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.OrderLine{
			ProductID:      it.ProductID,
			Quantity:       it.Quantity,
			PrescriptionID: it.PrescriptionID,
		})
	}

	key := strings.TrimSpace(c.Request().Header.Get(IdempotencyKeyHeader))
	order, replayed, err := h.Svc.PlaceOrderOnce(ctx, userID, key, in)
	if err != nil {
		return fail(c, l, "place_order", err)
	}

	if replayed {
		l.Info("place_order_replayed", "order_id", order.ID)
		return c.JSON(http.StatusOK, transport.NewOrderResponse(order))
	}
	l.Info("place_order_success", "order_id", order.ID)
	return c.JSON(http.StatusCreated, transport.NewOrderResponse(order))
}

func (h *OrderHTTP) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.list")

	userID, err := GetID(c)
	if err != nil {
		return fail(c, l, "list_orders", err)
	}

	page := pagination.ParseIntDefault(c.QueryParam("page"), 1)
	size := pagination.ParseIntDefault(c.QueryParam("page_size"), pagination.DefaultPageSize)
	offset, limit := pagination.Calculate(page, size)

	orders, total, err := h.Svc.ListOrders(ctx, userID, limit, offset)
	if err != nil {
		return fail(c, l, "list_orders", err)
	}

	resp := transport.OrderListResponse{
		Items:    make([]transport.OrderResponse, 0, len(orders)),
		Total:    total,
		Page:     offset/limit + 1,
		PageSize: limit,
	}
	for i := range orders {
		resp.Items = append(resp.Items, transport.NewOrderResponse(&orders[i]))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *OrderHTTP) GetOrder(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.get")

	userID, err := GetID(c)
	if err != nil {
		return fail(c, l, "get_order", err)
	}
	orderID, err := pathID(c, "id")
	if err != nil {
		return fail(c, l, "get_order", err)
	}

	order, err := h.Svc.GetOrder(ctx, orderID, userID)
	if err != nil {
		return fail(c, l, "get_order", err)
	}
	return c.JSON(http.StatusOK, transport.NewOrderResponse(order))
}

func (h *OrderHTTP) CancelOrder(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.cancel")

	userID, err := GetID(c)
	if err != nil {
		return fail(c, l, "cancel_order", err)
	}
	orderID, err := pathID(c, "id")
	if err != nil {
		return fail(c, l, "cancel_order", err)
	}

	order, err := h.Svc.CancelOrder(ctx, orderID, userID)
	if err != nil {
		return fail(c, l, "cancel_order", err)
	}

	l.Info("cancel_order_success", "order_id", order.ID)
	return c.JSON(http.StatusOK, transport.NewOrderResponse(order))
}

func (h *OrderHTTP) RequestRefund(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "order.refund")

	userID, err := GetID(c)
	if err != nil {
		return fail(c, l, "request_refund", err)
	}
	orderID, err := pathID(c, "id")
	if err != nil {
		return fail(c, l, "request_refund", err)
	}
	var req transport.RefundRequest
	if err := bind(c, &req); err != nil {
		return fail(c, l, "request_refund", err)
	}

	refund, err := h.Svc.RequestRefund(ctx, orderID, userID, req.Reason)
	if err != nil {
		return fail(c, l, "request_refund", err)
	}

	l.Info("request_refund_success", "order_id", orderID, "refund_id", refund.ID)
	return c.JSON(http.StatusCreated, transport.RefundResponse{
		RefundID: refund.ID,
		OrderID:  refund.OrderID,
		Status:   refund.Status,
		Reason:   refund.Reason,
	})
}

func (h *OrderHTTP) UpdateStatus(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.order.status")

	orderID, err := pathID(c, "id")
	if err != nil {
		return fail(c, l, "update_status", err)
	}
	var req transport.UpdateStatusRequest
	if err := bind(c, &req); err != nil {
		return fail(c, l, "update_status", err)
	}

	order, err := h.Svc.AdminTransition(ctx, orderID, models.OrderStatus(req.Status), req.Reason)
	if err != nil {
		return fail(c, l, "update_status", err)
	}

	l.Info("update_status_success", "order_id", order.ID, "status", order.Status)
	return c.JSON(http.StatusOK, transport.NewOrderResponse(order))
}
