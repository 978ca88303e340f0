package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/online_pharmacy/pkg/logging"
	"github.com/Skotchmaster/online_pharmacy/pkg/pagination"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/invoice"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/transport"
)

type InvoiceSearcher interface {
	Search(ctx context.Context, query string, from, size int) (int64, []invoice.Document, error)
}

type InvoiceHTTP struct {
	Index InvoiceSearcher
}

func (h *InvoiceHTTP) Search(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "admin.invoice.search")

	q := strings.TrimSpace(c.QueryParam("q"))
	page := pagination.ParseIntDefault(c.QueryParam("page"), 1)
	size := pagination.ParseIntDefault(c.QueryParam("page_size"), pagination.DefaultPageSize)
	offset, limit := pagination.Calculate(page, size)

	total, docs, err := h.Index.Search(ctx, q, offset, limit)
	if err != nil {
		l.Error("search_invoices_error", "status", 502, "reason", "index unavailable", "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "invoice index unavailable")
	}
	if docs == nil {
		docs = []invoice.Document{}
	}

	l.Info("search_invoices_success", "query", q, "total", total)
	return c.JSON(http.StatusOK, transport.InvoiceSearchResponse{
		Items:    docs,
		Total:    total,
		Page:     offset/limit + 1,
		PageSize: limit,
	})
}
