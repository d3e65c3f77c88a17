package paddle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/pkg/payment"
)

const (
	Name              = "paddle"
	defaultBaseURL    = "https://api.paddle.com"
	signatureTolerate = 5 * time.Minute
)

// Gateway Paddle Billing API
type Gateway struct {
	apiKey        string
	baseURL       string
	webhookSecret string
	httpClient    *http.Client
	now           func() time.Time
}

func NewGateway(cfg config.PaddleConfig) *Gateway {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Gateway{
		apiKey:        cfg.APIKey,
		baseURL:       strings.TrimRight(baseURL, "/"),
		webhookSecret: cfg.WebhookSecret,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
		now:           time.Now,
	}
}

func (g *Gateway) Name() string { return Name }

type customData struct {
	UserID   string `json:"user_id"`
	Plan     string `json:"plan"`
	Interval string `json:"interval"`
}

type subscription struct {
	ID                   string     `json:"id"`
	Status               string     `json:"status"`
	CustomerID           string     `json:"customer_id"`
	CustomData           customData `json:"custom_data"`
	CanceledAt           *time.Time `json:"canceled_at"`
	CurrentBillingPeriod *struct {
		StartsAt time.Time `json:"starts_at"`
		EndsAt   time.Time `json:"ends_at"`
	} `json:"current_billing_period"`
	BillingCycle struct {
		Interval string `json:"interval"`
	} `json:"billing_cycle"`
	ScheduledChange *struct {
		Action string `json:"action"`
	} `json:"scheduled_change"`
	Items []struct {
		Price struct {
			ID        string `json:"id"`
			UnitPrice struct {
				Amount       string `json:"amount"`
				CurrencyCode string `json:"currency_code"`
			} `json:"unit_price"`
		} `json:"price"`
	} `json:"items"`
}

type transaction struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	SubscriptionID string     `json:"subscription_id"`
	CustomerID     string     `json:"customer_id"`
	CustomData     customData `json:"custom_data"`
	CurrencyCode   string     `json:"currency_code"`
	BilledAt       *time.Time `json:"billed_at"`
	Checkout       *struct {
		URL string `json:"url"`
	} `json:"checkout"`
	Details struct {
		Totals struct {
			GrandTotal string `json:"grand_total"`
		} `json:"totals"`
	} `json:"details"`
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"error"`
}

// CreateCheckout 创建 transaction，返回托管结账页地址
func (g *Gateway) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	if g.apiKey == "" || req.PriceID == "" {
		return nil, payment.ErrNotConfigured
	}

	body := map[string]interface{}{
		"items": []map[string]interface{}{{"price_id": req.PriceID, "quantity": 1}},
		"custom_data": customData{
			UserID:   strconv.FormatInt(req.UserID, 10),
			Plan:     req.Plan,
			Interval: req.Interval,
		},
	}
	if req.CustomerID != "" {
		body["customer_id"] = req.CustomerID
	}
	if req.SuccessURL != "" {
		body["checkout"] = map[string]string{"url": req.SuccessURL}
	}

	var tx transaction
	if err := g.do(ctx, http.MethodPost, "/transactions", body, &tx); err != nil {
		return nil, err
	}
	if tx.Checkout == nil || tx.Checkout.URL == "" {
		return nil, fmt.Errorf("paddle transaction %s has no checkout url", tx.ID)
	}
	return &payment.CheckoutSession{ID: tx.ID, URL: tx.Checkout.URL}, nil
}

func (g *Gateway) GetSubscription(ctx context.Context, id string) (*payment.SubscriptionUpdate, error) {
	var sub subscription
	if err := g.do(ctx, http.MethodGet, "/subscriptions/"+id, nil, &sub); err != nil {
		return nil, err
	}
	return sub.update(), nil
}

// CancelSubscription 在下个计费周期开始时取消
func (g *Gateway) CancelSubscription(ctx context.Context, id string) (*payment.SubscriptionUpdate, error) {
	var sub subscription
	body := map[string]string{"effective_from": "next_billing_period"}
	if err := g.do(ctx, http.MethodPost, "/subscriptions/"+id+"/cancel", body, &sub); err != nil {
		return nil, err
	}
	return sub.update(), nil
}

// ParseWebhook 校验 Paddle-Signature: ts=..;h1=..
func (g *Gateway) ParseWebhook(payload []byte, header http.Header) (*payment.Event, error) {
	if g.webhookSecret == "" {
		return nil, payment.ErrNotConfigured
	}
	if err := g.verify(payload, header.Get("Paddle-Signature")); err != nil {
		return nil, err
	}

	var raw struct {
		EventID   string          `json:"event_id"`
		EventType string          `json:"event_type"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parse paddle event: %w", err)
	}

	evt := &payment.Event{ID: raw.EventID, Type: raw.EventType}
	switch {
	case strings.HasPrefix(raw.EventType, "subscription."):
		var sub subscription
		if err := json.Unmarshal(raw.Data, &sub); err != nil {
			return nil, fmt.Errorf("parse paddle subscription: %w", err)
		}
		evt.Subscription = sub.update()

	case raw.EventType == "transaction.completed", raw.EventType == "transaction.paid",
		raw.EventType == "transaction.payment_failed":
		var tx transaction
		if err := json.Unmarshal(raw.Data, &tx); err != nil {
			return nil, fmt.Errorf("parse paddle transaction: %w", err)
		}
		evt.Payment = tx.update(raw.EventType == "transaction.payment_failed")
	}
	return evt, nil
}

func (g *Gateway) verify(payload []byte, header string) error {
	var ts, h1 string
	for _, part := range strings.Split(header, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "h1":
			h1 = kv[1]
		}
	}
	if ts == "" || h1 == "" {
		return payment.ErrInvalidSignature
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return payment.ErrInvalidSignature
	}
	if d := g.now().Sub(time.Unix(sec, 0)); d > signatureTolerate || d < -signatureTolerate {
		return fmt.Errorf("%w: timestamp outside tolerance", payment.ErrInvalidSignature)
	}

	if !payment.VerifyHMAC(g.webhookSecret, h1, []byte(ts+":"), payload) {
		return payment.ErrInvalidSignature
	}
	return nil
}

// Sign 生成 Paddle-Signature 头（测试和本地调试用）
func Sign(secret string, ts time.Time, payload []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "ts=" + t + ";h1=" + payment.HMACHex(secret, []byte(t+":"), payload)
}

func (g *Gateway) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paddle request failed: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("paddle response status %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || env.Error != nil {
		msg := http.StatusText(resp.StatusCode)
		if env.Error != nil {
			msg = env.Error.Code + ": " + env.Error.Detail
		}
		return fmt.Errorf("paddle api error: status %d: %s", resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// MapStatus Paddle 状态与统一状态基本一致
func MapStatus(s string) string {
	switch s {
	case "active":
		return payment.StatusActive
	case "trialing":
		return payment.StatusTrialing
	case "past_due":
		return payment.StatusPastDue
	case "paused":
		return payment.StatusPaused
	case "canceled":
		return payment.StatusCanceled
	default:
		return payment.StatusIncomplete
	}
}

func (s *subscription) update() *payment.SubscriptionUpdate {
	u := &payment.SubscriptionUpdate{
		ProviderSubscriptionID: s.ID,
		ProviderCustomerID:     s.CustomerID,
		UserID:                 payment.ParseUserID(s.CustomData.UserID),
		Plan:                   s.CustomData.Plan,
		Interval:               s.CustomData.Interval,
		Status:                 MapStatus(s.Status),
		RawStatus:              s.Status,
		CanceledAt:             s.CanceledAt,
		CancelAtPeriodEnd:      s.ScheduledChange != nil && s.ScheduledChange.Action == "cancel",
	}
	if u.Interval == "" {
		u.Interval = s.BillingCycle.Interval
	}
	if s.CurrentBillingPeriod != nil {
		u.CurrentPeriodStart = s.CurrentBillingPeriod.StartsAt
		u.CurrentPeriodEnd = s.CurrentBillingPeriod.EndsAt
	}
	if len(s.Items) > 0 {
		p := s.Items[0].Price
		u.PriceID = p.ID
		u.Amount = minorUnits(p.UnitPrice.Amount)
		u.Currency = strings.ToLower(p.UnitPrice.CurrencyCode)
	}
	return u
}

func (t *transaction) update(failed bool) *payment.PaymentUpdate {
	u := &payment.PaymentUpdate{
		ProviderPaymentID:      t.ID,
		ProviderSubscriptionID: t.SubscriptionID,
		ProviderCustomerID:     t.CustomerID,
		UserID:                 payment.ParseUserID(t.CustomData.UserID),
		Plan:                   t.CustomData.Plan,
		Interval:               t.CustomData.Interval,
		Amount:                 minorUnits(t.Details.Totals.GrandTotal),
		Currency:               strings.ToLower(t.CurrencyCode),
		Status:                 payment.PaymentPaid,
		PaidAt:                 t.BilledAt,
	}
	if failed {
		u.Status = payment.PaymentFailed
		u.PaidAt = nil
	}
	return u
}

// minorUnits Paddle 金额为最小货币单位的字符串
func minorUnits(s string) float64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return float64(n) / 100
}
