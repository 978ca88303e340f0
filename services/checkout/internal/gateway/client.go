// Package gateway is a client for a PayMongo-style payment API: the shop
// creates a source, the customer authorises it on the gateway's checkout
// page, and the shop charges the source once it turns chargeable.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Skotchmaster/online_pharmacy/pkg/money"
	"github.com/Skotchmaster/online_pharmacy/services/checkout/internal/models"
)

var (
	// ErrUnavailable covers transport failures and 5xx answers; the call is
	// safe to retry.
	ErrUnavailable = errors.New("payment gateway unavailable")
	ErrRejected    = errors.New("payment gateway rejected request")
	ErrNotFound    = errors.New("payment source not found")
)

// Source statuses reported by the gateway.
const (
	SourcePending    = "pending"
	SourceChargeable = "chargeable"
	SourcePaid       = "paid"
	SourceCancelled  = "cancelled"
	SourceFailed     = "failed"
	SourceExpired    = "expired"
)

type Config struct {
	BaseURL    string
	SecretKey  string
	Currency   string
	SuccessURL string
	FailedURL  string
	Timeout    time.Duration
}

type Source struct {
	ID          string
	Status      string
	Amount      decimal.Decimal
	CheckoutURL string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "PHP"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type envelope struct {
	Data resource `json:"data"`
}

type resource struct {
	ID         string     `json:"id,omitempty"`
	Type       string     `json:"type,omitempty"`
	Attributes attributes `json:"attributes"`
}

type attributes struct {
	Amount   int64      `json:"amount"`
	Currency string     `json:"currency,omitempty"`
	Type     string     `json:"type,omitempty"`
	Status   string     `json:"status,omitempty"`
	Redirect *redirect  `json:"redirect,omitempty"`
	Source   *sourceRef `json:"source,omitempty"`
	Metadata any        `json:"metadata,omitempty"`
}

type redirect struct {
	Success     string `json:"success,omitempty"`
	Failed      string `json:"failed,omitempty"`
	CheckoutURL string `json:"checkout_url,omitempty"`
}

type sourceRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// CreateSource registers a payment source for amount. reference is stored
// as metadata so webhook payloads can be traced back to the order.
func (c *Client) CreateSource(ctx context.Context, amount decimal.Decimal, method, reference string) (*Source, error) {
	body := envelope{Data: resource{Attributes: attributes{
		Amount:   money.ToCentavos(amount),
		Currency: c.cfg.Currency,
		Type:     method,
		Redirect: &redirect{
			Success: c.cfg.SuccessURL,
			Failed:  c.cfg.FailedURL,
		},
		Metadata: map[string]string{"order_id": reference},
	}}}

	var out envelope
	if err := c.do(ctx, http.MethodPost, "/v1/sources", body, &out); err != nil {
		return nil, err
	}
	return toSource(out.Data), nil
}

func (c *Client) GetSource(ctx context.Context, id string) (*Source, error) {
	var out envelope
	if err := c.do(ctx, http.MethodGet, "/v1/sources/"+id, nil, &out); err != nil {
		return nil, err
	}
	return toSource(out.Data), nil
}

// CreatePayment charges a chargeable source and returns the payment status.
func (c *Client) CreatePayment(ctx context.Context, sourceID string, amount decimal.Decimal) (string, error) {
	body := envelope{Data: resource{Attributes: attributes{
		Amount:   money.ToCentavos(amount),
		Currency: c.cfg.Currency,
		Source:   &sourceRef{ID: sourceID, Type: "source"},
	}}}

	var out envelope
	if err := c.do(ctx, http.MethodPost, "/v1/payments", body, &out); err != nil {
		return "", err
	}
	return out.Data.Attributes.Status, nil
}

// Resolve reports where a source stands, charging it first when the
// customer has authorised it.
func (c *Client) Resolve(ctx context.Context, sourceID string) (models.PaymentResult, error) {
	src, err := c.GetSource(ctx, sourceID)
	if err != nil {
		return "", err
	}

	status := src.Status
	if status == SourceChargeable {
		status, err = c.CreatePayment(ctx, sourceID, src.Amount)
		if err != nil {
			if errors.Is(err, ErrRejected) {
				return models.PaymentFailed, nil
			}
			return "", err
		}
	}
	return MapStatus(status), nil
}

// MapStatus folds gateway statuses into local payment results.
func MapStatus(status string) models.PaymentResult {
	switch status {
	case SourcePaid:
		return models.PaymentPaid
	case SourceCancelled, SourceFailed:
		return models.PaymentFailed
	case SourceExpired:
		return models.PaymentExpired
	default:
		return models.PaymentPending
	}
}

func toSource(r resource) *Source {
	s := &Source{
		ID:     r.ID,
		Status: r.Attributes.Status,
		Amount: money.FromCentavos(r.Attributes.Amount),
	}
	if r.Attributes.Redirect != nil {
		s.CheckoutURL = r.Attributes.Redirect.CheckoutURL
	}
	return s
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.SecretKey, "")
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
