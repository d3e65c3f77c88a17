package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	sdk "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/qs3c/aigc_server/config"
	"github.com/qs3c/aigc_server/internal/pkg/payment"
)

const Name = "stripe"

// Gateway Stripe 订阅支付
type Gateway struct {
	api           *client.API
	webhookSecret string
}

// NewGateway backends 为空时使用官方 API
func NewGateway(cfg config.StripeConfig, backends *sdk.Backends) *Gateway {
	return &Gateway{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
	}
}

func (g *Gateway) Name() string { return Name }

// CreateCheckout 创建订阅模式的 Checkout Session
func (g *Gateway) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, payment.ErrNotConfigured
	}

	meta := map[string]string{
		"user_id":  strconv.FormatInt(req.UserID, 10),
		"plan":     req.Plan,
		"interval": req.Interval,
	}
	params := &sdk.CheckoutSessionParams{
		Mode:              sdk.String(string(sdk.CheckoutSessionModeSubscription)),
		SuccessURL:        sdk.String(req.SuccessURL),
		CancelURL:         sdk.String(req.CancelURL),
		ClientReferenceID: sdk.String(strconv.FormatInt(req.UserID, 10)),
		LineItems: []*sdk.CheckoutSessionLineItemParams{
			{Price: sdk.String(req.PriceID), Quantity: sdk.Int64(1)},
		},
		SubscriptionData: &sdk.CheckoutSessionSubscriptionDataParams{Metadata: meta},
	}
	if req.CustomerID != "" {
		params.Customer = sdk.String(req.CustomerID)
	} else if req.Email != "" {
		params.CustomerEmail = sdk.String(req.Email)
	}
	for k, v := range meta {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout: %w", err)
	}
	return &payment.CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// GetSubscription 从 Stripe 拉取订阅
func (g *Gateway) GetSubscription(ctx context.Context, id string) (*payment.SubscriptionUpdate, error) {
	params := &sdk.SubscriptionParams{}
	params.Context = ctx
	sub, err := g.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe get subscription: %w", err)
	}
	return subscriptionUpdate(sub), nil
}

// CancelSubscription 在当前周期结束时取消
func (g *Gateway) CancelSubscription(ctx context.Context, id string) (*payment.SubscriptionUpdate, error) {
	params := &sdk.SubscriptionParams{CancelAtPeriodEnd: sdk.Bool(true)}
	params.Context = ctx
	sub, err := g.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe cancel subscription: %w", err)
	}
	return subscriptionUpdate(sub), nil
}

// PortalURL 创建客户自助管理页面
func (g *Gateway) PortalURL(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &sdk.BillingPortalSessionParams{
		Customer:  sdk.String(customerID),
		ReturnURL: sdk.String(returnURL),
	}
	params.Context = ctx
	s, err := g.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe portal: %w", err)
	}
	return s.URL, nil
}

// ParseWebhook 校验 Stripe-Signature 并转换事件
func (g *Gateway) ParseWebhook(payload []byte, header http.Header) (*payment.Event, error) {
	if g.webhookSecret == "" {
		return nil, payment.ErrNotConfigured
	}
	evt, err := webhook.ConstructEventWithOptions(payload, header.Get("Stripe-Signature"), g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrInvalidSignature, err)
	}

	out := &payment.Event{ID: evt.ID, Type: string(evt.Type)}
	if evt.Data == nil {
		return out, nil
	}

	switch evt.Type {
	case "checkout.session.completed":
		var s sdk.CheckoutSession
		if err := json.Unmarshal(evt.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("parse checkout session: %w", err)
		}
		if s.Subscription == nil {
			return out, nil
		}
		// 只有订阅 ID，状态留空由调用方拉取完整数据
		update := &payment.SubscriptionUpdate{
			ProviderSubscriptionID: s.Subscription.ID,
			UserID:                 payment.ParseUserID(s.ClientReferenceID),
			Plan:                   s.Metadata["plan"],
			Interval:               s.Metadata["interval"],
		}
		if s.Customer != nil {
			update.ProviderCustomerID = s.Customer.ID
		}
		out.Subscription = update

	case "customer.subscription.created", "customer.subscription.updated",
		"customer.subscription.deleted", "customer.subscription.paused", "customer.subscription.resumed":
		var sub sdk.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("parse subscription: %w", err)
		}
		out.Subscription = subscriptionUpdate(&sub)

	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		var inv sdk.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("parse invoice: %w", err)
		}
		out.Payment = paymentUpdate(&inv, evt.Type == "invoice.payment_failed")
	}
	return out, nil
}

// MapStatus 将 Stripe 状态映射为统一状态
func MapStatus(s sdk.SubscriptionStatus) string {
	switch s {
	case sdk.SubscriptionStatusActive:
		return payment.StatusActive
	case sdk.SubscriptionStatusTrialing:
		return payment.StatusTrialing
	case sdk.SubscriptionStatusPastDue, sdk.SubscriptionStatusUnpaid:
		return payment.StatusPastDue
	case sdk.SubscriptionStatusPaused:
		return payment.StatusPaused
	case sdk.SubscriptionStatusCanceled:
		return payment.StatusCanceled
	case sdk.SubscriptionStatusIncompleteExpired:
		return payment.StatusExpired
	default:
		return payment.StatusIncomplete
	}
}

func subscriptionUpdate(sub *sdk.Subscription) *payment.SubscriptionUpdate {
	u := &payment.SubscriptionUpdate{
		ProviderSubscriptionID: sub.ID,
		UserID:                 payment.ParseUserID(sub.Metadata["user_id"]),
		Plan:                   sub.Metadata["plan"],
		Interval:               sub.Metadata["interval"],
		Status:                 MapStatus(sub.Status),
		RawStatus:              string(sub.Status),
		CurrentPeriodStart:     unix(sub.CurrentPeriodStart),
		CurrentPeriodEnd:       unix(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		u.ProviderCustomerID = sub.Customer.ID
	}
	if sub.CanceledAt > 0 {
		t := unix(sub.CanceledAt)
		u.CanceledAt = &t
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		price := sub.Items.Data[0].Price
		u.PriceID = price.ID
		u.Amount = float64(price.UnitAmount) / 100
		u.Currency = string(price.Currency)
		if price.Recurring != nil && u.Interval == "" {
			u.Interval = string(price.Recurring.Interval)
		}
	}
	return u
}

func paymentUpdate(inv *sdk.Invoice, failed bool) *payment.PaymentUpdate {
	u := &payment.PaymentUpdate{
		ProviderPaymentID: inv.ID,
		Amount:            float64(inv.AmountPaid) / 100,
		Currency:          string(inv.Currency),
		Status:            payment.PaymentPaid,
		InvoiceURL:        inv.HostedInvoiceURL,
	}
	if failed {
		u.Status = payment.PaymentFailed
		u.Amount = float64(inv.AmountDue) / 100
	}
	if inv.Subscription != nil {
		u.ProviderSubscriptionID = inv.Subscription.ID
	}
	if inv.Customer != nil {
		u.ProviderCustomerID = inv.Customer.ID
	}
	if inv.SubscriptionDetails != nil {
		u.UserID = payment.ParseUserID(inv.SubscriptionDetails.Metadata["user_id"])
		u.Plan = inv.SubscriptionDetails.Metadata["plan"]
		u.Interval = inv.SubscriptionDetails.Metadata["interval"]
	}
	if !failed && inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		t := unix(inv.StatusTransitions.PaidAt)
		u.PaidAt = &t
	}
	return u
}

func unix(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
