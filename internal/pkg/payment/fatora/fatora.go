package fatora

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/pkg/payment"
)

const (
	Name            = "fatora"
	SignatureHeader = "X-Fatora-Signature"
	defaultBaseURL  = "https://api.fatora.io"
)

// Gateway Fatora 一次性支付，没有自动续费
type Gateway struct {
	apiKey        string
	baseURL       string
	webhookSecret string
	httpClient    *http.Client
}

func NewGateway(cfg config.FatoraConfig) *Gateway {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Gateway{
		apiKey:        cfg.APIKey,
		baseURL:       strings.TrimRight(baseURL, "/"),
		webhookSecret: cfg.WebhookSecret,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *Gateway) Name() string { return Name }

type apiResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code        int    `json:"error_code"`
		Description string `json:"description"`
	} `json:"error"`
}

type paymentResult struct {
	EventID       string  `json:"event_id"`
	OrderID       string  `json:"order_id"`
	TransactionID string  `json:"transaction_id"`
	PaymentStatus string  `json:"payment_status"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
}

// CreateCheckout OrderID 由调用方生成并落库
func (g *Gateway) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	if g.apiKey == "" {
		return nil, payment.ErrNotConfigured
	}
	if req.OrderID == "" || req.Amount <= 0 {
		return nil, fmt.Errorf("fatora checkout: order id and amount required")
	}

	body := map[string]interface{}{
		"amount":      req.Amount,
		"currency":    strings.ToUpper(req.Currency),
		"order_id":    req.OrderID,
		"client":      map[string]string{"email": req.Email},
		"language":    "en",
		"success_url": req.SuccessURL,
		"failure_url": req.CancelURL,
		"note":        fmt.Sprintf("%s plan (%s)", req.Plan, req.Interval),
	}

	var result struct {
		CheckoutURL string `json:"checkout_url"`
	}
	if err := g.post(ctx, "/v1/payments/checkout", body, &result); err != nil {
		return nil, err
	}
	return &payment.CheckoutSession{ID: req.OrderID, URL: result.CheckoutURL}, nil
}

// VerifyPayment 查询订单支付结果
func (g *Gateway) VerifyPayment(ctx context.Context, orderID string) (*payment.PaymentUpdate, error) {
	if g.apiKey == "" {
		return nil, payment.ErrNotConfigured
	}
	var r paymentResult
	if err := g.post(ctx, "/v1/payments/verify", map[string]string{"order_id": orderID}, &r); err != nil {
		return nil, err
	}
	if r.OrderID == "" {
		r.OrderID = orderID
	}
	return r.update(time.Now()), nil
}

// ParseWebhook 校验共享密钥 HMAC 签名
func (g *Gateway) ParseWebhook(payload []byte, header http.Header) (*payment.Event, error) {
	if g.webhookSecret == "" {
		return nil, payment.ErrNotConfigured
	}
	if !payment.VerifyHMAC(g.webhookSecret, strings.ToLower(header.Get(SignatureHeader)), payload) {
		return nil, payment.ErrInvalidSignature
	}

	var r paymentResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("parse fatora event: %w", err)
	}
	if r.OrderID == "" {
		return nil, fmt.Errorf("parse fatora event: missing order_id")
	}

	id := r.EventID
	if id == "" {
		id = r.OrderID + ":" + strings.ToLower(r.PaymentStatus)
	}
	return &payment.Event{
		ID:      id,
		Type:    "payment." + strings.ToLower(r.PaymentStatus),
		Payment: r.update(time.Now()),
	}, nil
}

func (g *Gateway) post(ctx context.Context, path string, in, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("api_key", g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fatora request failed: %w", err)
	}
	defer resp.Body.Close()

	var r apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("fatora response status %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || !strings.EqualFold(r.Status, "SUCCESS") {
		msg := r.Status
		if r.Error != nil {
			msg = r.Error.Description
		}
		return fmt.Errorf("fatora api error: status %d: %s", resp.StatusCode, msg)
	}
	return json.Unmarshal(r.Result, out)
}

// MapPaymentStatus Fatora 支付结果映射
func MapPaymentStatus(s string) string {
	switch strings.ToUpper(s) {
	case "SUCCESS", "PAID", "CAPTURED":
		return payment.PaymentPaid
	case "FAILURE", "FAILED", "CANCELED", "CANCELLED":
		return payment.PaymentFailed
	case "REFUNDED":
		return payment.PaymentRefunded
	default:
		return payment.PaymentPending
	}
}

func (r *paymentResult) update(now time.Time) *payment.PaymentUpdate {
	u := &payment.PaymentUpdate{
		ProviderPaymentID: r.OrderID,
		Amount:            r.Amount,
		Currency:          strings.ToLower(r.Currency),
		Status:            MapPaymentStatus(r.PaymentStatus),
	}
	if u.Status == payment.PaymentPaid {
		t := now.UTC()
		u.PaidAt = &t
	}
	return u
}
