package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Skotchmaster/online_pharmacy/pkg/tokens"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/events"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/gateway"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/invoice"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/notify"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/rates"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/repo"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/service"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/testdb"
)

var (
	jwtSecret     = []byte("checkout-test-secret")
	webhookSecret = "whsk_test"
)

type stubGateway struct {
	mu      sync.Mutex
	seq     int
	results map[string]models.PaymentResult
}

func (g *stubGateway) CreateSource(_ context.Context, _ decimal.Decimal, _, _ string) (*gateway.Source, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("src_%d", g.seq)
	return &gateway.Source{ID: id, Status: gateway.SourcePending, CheckoutURL: "https://pay.example/" + id}, nil
}

func (g *stubGateway) Resolve(_ context.Context, id string) (models.PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.results[id]; ok {
		return r, nil
	}
	return models.PaymentPending, nil
}

type stubIndex struct {
	docs []invoice.Document
	err  error
}

func (s *stubIndex) Search(_ context.Context, _ string, _, _ int) (int64, []invoice.Document, error) {
	return int64(len(s.docs)), s.docs, s.err
}

type server struct {
	e       *echo.Echo
	db      *gorm.DB
	gateway *stubGateway
	index   *stubIndex
}

func newServer(t *testing.T) *server {
	t.Helper()
	db := testdb.Open(t)
	r := &repo.GormRepo{DB: db}
	bg := &service.Background{Timeout: time.Second}
	t.Cleanup(bg.Wait)

	gw := &stubGateway{results: make(map[string]models.PaymentResult)}
	idx := &stubIndex{}
	book := rates.New(decimal.NewFromInt(12), nil, nil, map[string]decimal.Decimal{"standard": decimal.NewFromInt(50)})

	e := echo.New()
	Register(e, &Deps{
		Orders: &OrderHTTP{Svc: &service.OrderService{
			Repo: r, Rates: book, Events: events.Nop{}, Notify: notify.Nop{}, BG: bg,
		}},
		Payments: &PaymentHTTP{
			Svc: &service.PaymentService{
				Repo: r, Gateway: gw, Events: events.Nop{}, Notify: notify.Nop{}, BG: bg,
			},
			WebhookSecret:    webhookSecret,
			WebhookTolerance: 5 * time.Minute,
		},
		Coupons:   &CouponHTTP{Svc: &service.CouponService{Repo: r}},
		Invoices:  &InvoiceHTTP{Index: idx},
		JWTSecret: jwtSecret,
	})
	return &server{e: e, db: db, gateway: gw, index: idx}
}

func bearer(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := tokens.NewAccessToken(jwtSecret, userID, role, time.Now().Add(time.Hour))
	require.NoError(t, err)
	return "Bearer " + tok
}

func (s *server) do(t *testing.T, method, path, auth string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case []byte:
			buf.Write(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func orderBody(productID uuid.UUID, qty int) map[string]any {
	return map[string]any{
		"items": []map[string]any{{"product_id": productID, "quantity": qty}},
		"shipping_address": map[string]any{
			"street": "1 Rizal Ave", "city": "Manila", "country": "PH",
		},
		"shipping_method": "standard",
		"payment_method":  "gcash",
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/live", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health/ready", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/metrics", "", nil).Code)
}

func TestPlaceOrder(t *testing.T) {
	s := newServer(t)
	p := testdb.SeedProduct(t, s.db, "Paracetamol", "100.00", 10)
	user := bearer(t, uuid.NewString(), tokens.RoleUser)

	rec := s.do(t, http.MethodPost, "/orders", "", orderBody(p.ID, 2))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders", user, orderBody(p.ID, 2))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "200.00", body["subtotal"])
	assert.Equal(t, "280.00", body["total"])
	assert.NotEmpty(t, body["order_id"])

	rec = s.do(t, http.MethodGet, "/orders", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["total"])

	rec = s.do(t, http.MethodGet, "/orders/"+body["order_id"].(string), user, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	other := bearer(t, uuid.NewString(), tokens.RoleUser)
	rec = s.do(t, http.MethodGet, "/orders/"+body["order_id"].(string), other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlaceOrder_Rejections(t *testing.T) {
	s := newServer(t)
	p := testdb.SeedProduct(t, s.db, "Paracetamol", "100.00", 1)
	user := bearer(t, uuid.NewString(), tokens.RoleUser)

	rec := s.do(t, http.MethodPost, "/orders", user, orderBody(p.ID, 0))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "validation", body["reason"])
	assert.Contains(t, rec.Body.String(), "items[0].quantity")

	rec = s.do(t, http.MethodPost, "/orders", user, []byte("{not json"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decode(t, rec)["reason"])

	rec = s.do(t, http.MethodPost, "/orders", user, orderBody(p.ID, 2))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "insufficient_stock", body["reason"])
	assert.Equal(t, p.ID.String(), body["details"].(map[string]any)["product_id"])

	withCoupon := orderBody(p.ID, 1)
	withCoupon["coupon_code"] = "GHOST"
	rec = s.do(t, http.MethodPost, "/orders", user, withCoupon)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_coupon", decode(t, rec)["reason"])
	assert.Equal(t, 1, testdb.Stock(t, s.db, p.ID))
}

func TestPlaceOrder_IdempotencyKeyWithoutStore(t *testing.T) {
	s := newServer(t)
	p := testdb.SeedProduct(t, s.db, "Paracetamol", "100.00", 10)
	user := bearer(t, uuid.NewString(), tokens.RoleUser)

	rec := s.do(t, http.MethodPost, "/orders", user, orderBody(p.ID, 1), IdempotencyKeyHeader, "abc")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCancelAndRefund(t *testing.T) {
	s := newServer(t)
	p := testdb.SeedProduct(t, s.db, "Paracetamol", "100.00", 10)
	user := bearer(t, uuid.NewString(), tokens.RoleUser)

	rec := s.do(t, http.MethodPost, "/orders", user, orderBody(p.ID, 3))
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode(t, rec)["order_id"].(string)

	rec = s.do(t, http.MethodPost, "/orders/"+id+"/refund", user, map[string]any{"reason": "changed my mind"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_eligible_for_refund", decode(t, rec)["reason"])

	rec = s.do(t, http.MethodPost, "/orders/"+id+"/cancel", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode(t, rec)["status"])
	assert.Equal(t, 10, testdb.Stock(t, s.db, p.ID))

	rec = s.do(t, http.MethodPost, "/orders/"+id+"/cancel", user, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "order_not_cancellable", decode(t, rec)["reason"])

	rec = s.do(t, http.MethodPost, "/orders/not-a-uuid/cancel", user, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentFlow(t *testing.T) {
	s := newServer(t)
	p := testdb.SeedProduct(t, s.db, "Paracetamol", "100.00", 10)
	userID := uuid.NewString()
	user := bearer(t, userID, tokens.RoleUser)
	admin := bearer(t, uuid.NewString(), tokens.RoleAdmin)

	rec := s.do(t, http.MethodPost, "/orders", user, orderBody(p.ID, 1))
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode(t, rec)
	id := order["order_id"].(string)

	rec = s.do(t, http.MethodPost, "/payments/create-source", user, map[string]any{"order_id": id, "amount": "1.00", "method": "gcash"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "amount_mismatch", decode(t, rec)["reason"])

	rec = s.do(t, http.MethodPost, "/payments/create-source", user, map[string]any{"order_id": id, "amount": order["total"], "method": "gcash"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	src := decode(t, rec)
	assert.Equal(t, "src_1", src["source_id"])
	assert.Equal(t, "https://pay.example/src_1", src["checkout_url"])

	rec = s.do(t, http.MethodPost, "/payments/create-source", user, map[string]any{"order_id": id, "amount": order["total"], "method": "gcash"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "payment_in_progress", decode(t, rec)["reason"])

	rec = s.do(t, http.MethodPost, "/payments/verify", user, map[string]any{"source_id": "src_1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decode(t, rec)["status"])

	payload := []byte(`{"data":{"attributes":{"type":"source.chargeable","data":{"id":"src_1","type":"source"}}}}`)
	rec = s.do(t, http.MethodPost, "/payments/webhook", "", payload, gateway.SignatureHeader, "t=1,te=deadbeef,li=")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	s.gateway.mu.Lock()
	s.gateway.results["src_1"] = models.PaymentPaid
	s.gateway.mu.Unlock()

	sig := gateway.Sign(webhookSecret, time.Now(), payload, false)
	rec = s.do(t, http.MethodPost, "/payments/webhook", "", payload, gateway.SignatureHeader, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paid", decode(t, rec)["status"])

	rec = s.do(t, http.MethodGet, "/orders/"+id, user, nil)
	assert.Equal(t, "paid", decode(t, rec)["status"])

	rec = s.do(t, http.MethodPatch, "/admin/orders/"+id+"/status", user, map[string]any{"status": "processing"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPatch, "/admin/orders/"+id+"/status", admin, map[string]any{"status": "completed"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode(t, rec)["reason"])

	rec = s.do(t, http.MethodPatch, "/admin/orders/"+id+"/status", admin, map[string]any{"status": "processing"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processing", decode(t, rec)["status"])
}

func TestWebhook_IgnoresUntrackedEvents(t *testing.T) {
	s := newServer(t)
	payload := []byte(`{"data":{"attributes":{"type":"link.payment.paid","data":{"id":"link_1","type":"link"}}}}`)
	sig := gateway.Sign(webhookSecret, time.Now(), payload, true)

	rec := s.do(t, http.MethodPost, "/payments/webhook", "", payload, gateway.SignatureHeader, sig)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCoupons(t *testing.T) {
	s := newServer(t)
	user := bearer(t, uuid.NewString(), tokens.RoleUser)
	admin := bearer(t, uuid.NewString(), tokens.RoleAdmin)

	now := time.Now().UTC()
	create := map[string]any{
		"code":                "flu15",
		"discount_type":       "percentage",
		"discount_value":      "15",
		"min_purchase_amount": "100.00",
		"max_discount_amount": "50.00",
		"start_date":          now.Add(-time.Hour),
		"end_date":            now.Add(24 * time.Hour),
	}

	rec := s.do(t, http.MethodPost, "/admin/coupons", user, create)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/admin/coupons", admin, create)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "FLU15", decode(t, rec)["code"])

	rec = s.do(t, http.MethodPost, "/admin/coupons", admin, create)
	require.Equal(t, http.StatusConflict, rec.Code)

	bad := map[string]any{"code": "X", "discount_type": "bogo", "discount_value": "1", "start_date": now, "end_date": now.Add(time.Hour)}
	rec = s.do(t, http.MethodPost, "/admin/coupons", admin, bad)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "discount_type")

	rec = s.do(t, http.MethodPost, "/coupons/validate", user, map[string]any{"code": "flu15", "total_amount": "200.00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "30.00", body["coupon"].(map[string]any)["discount_amount"])

	rec = s.do(t, http.MethodPost, "/coupons/validate", user, map[string]any{"code": "flu15", "total_amount": "50.00"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "minimum_not_met", body["reason"])
	assert.Equal(t, "100.00", body["details"].(map[string]any)["minimum_purchase"])

	rec = s.do(t, http.MethodPost, "/coupons/validate", user, map[string]any{"code": "nope", "total_amount": "50.00"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "invalid_coupon", decode(t, rec)["reason"])
}

func TestInvoiceSearch(t *testing.T) {
	s := newServer(t)
	admin := bearer(t, uuid.NewString(), tokens.RoleAdmin)
	s.index.docs = []invoice.Document{{Number: "INV-20240101-ABCDEF12", Total: "280.00"}}

	rec := s.do(t, http.MethodGet, "/admin/invoices?q=INV-2024", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["total"])
	assert.True(t, strings.Contains(rec.Body.String(), "INV-20240101-ABCDEF12"))

	s.index.err = errors.New("cluster down")
	rec = s.do(t, http.MethodGet, "/admin/invoices?q=x", admin, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
