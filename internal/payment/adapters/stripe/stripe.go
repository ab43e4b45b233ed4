package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() provider.Provider {
	return provider.Stripe
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	secretKey, _ := readString(cfg.Config, "secret_key")
	if strings.TrimSpace(secretKey) == "" {
		return nil, paymentdomain.ErrMissingCredential
	}
	webhookSecret, _ := readString(cfg.Config, "webhook_secret")

	sc := &client.API{}
	sc.Init(strings.TrimSpace(secretKey), nil)

	return &Adapter{
		merchantID:    cfg.MerchantID,
		client:        sc,
		webhookSecret: strings.TrimSpace(webhookSecret),
	}, nil
}

// Adapter drives Stripe with per-merchant keys. Stripe subscriptions are
// native: Stripe advances the billing period and retries declines itself,
// so renewal here is observe-only.
type Adapter struct {
	merchantID    int64
	client        *client.API
	webhookSecret string
}

func (a *Adapter) Provider() provider.Provider {
	return provider.Stripe
}

func (a *Adapter) CreateCustomer(ctx context.Context, profile paymentdomain.CustomerProfile) (string, error) {
	params := &stripeapi.CustomerParams{
		Email: stripeapi.String(profile.Email),
		Name:  stripeapi.String(profile.Name),
	}
	params.Context = ctx
	if profile.Phone != "" {
		params.Phone = stripeapi.String(profile.Phone)
	}
	if profile.Document != "" {
		params.AddMetadata("document", profile.Document)
	}

	cust, err := a.client.Customers.New(params)
	if err != nil {
		return "", translateErr(err)
	}
	return cust.ID, nil
}

func (a *Adapter) TokenizeCard(ctx context.Context, customerRef string, card paymentdomain.CardDetails) (*paymentdomain.CardToken, error) {
	params := &stripeapi.PaymentMethodParams{
		Type: stripeapi.String(string(stripeapi.PaymentMethodTypeCard)),
		Card: &stripeapi.PaymentMethodCardParams{
			Number:   stripeapi.String(card.Number),
			ExpMonth: stripeapi.Int64(int64(card.ExpMonth)),
			ExpYear:  stripeapi.Int64(int64(card.ExpYear)),
			CVC:      stripeapi.String(card.CVV),
		},
	}
	params.Context = ctx

	method, err := a.client.PaymentMethods.New(params)
	if err != nil {
		return nil, translateErr(err)
	}

	if customerRef != "" {
		attach := &stripeapi.PaymentMethodAttachParams{Customer: stripeapi.String(customerRef)}
		attach.Context = ctx
		if _, err := a.client.PaymentMethods.Attach(method.ID, attach); err != nil {
			return nil, translateErr(err)
		}
	}

	token := &paymentdomain.CardToken{ProviderCardID: method.ID}
	if method.Card != nil {
		token.Brand = string(method.Card.Brand)
		token.Last4 = method.Card.Last4
		token.ExpMonth = int(method.Card.ExpMonth)
		token.ExpYear = int(method.Card.ExpYear)
	}
	return token, nil
}

func (a *Adapter) CreateCharge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	params := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(req.AmountCents),
		Currency: stripeapi.String(strings.ToLower(req.Currency)),
		Confirm:  stripeapi.Bool(true),
	}
	params.Context = ctx
	if req.ProviderCustomerID != "" {
		params.Customer = stripeapi.String(req.ProviderCustomerID)
	}
	if req.CardToken != "" {
		params.PaymentMethod = stripeapi.String(req.CardToken)
		params.OffSession = stripeapi.Bool(true)
	}
	if req.Description != "" {
		params.Description = stripeapi.String(req.Description)
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripeapi.String(req.IdempotencyKey)
	}
	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}

	intent, err := a.client.PaymentIntents.New(params)
	if err != nil {
		return nil, translateErr(err)
	}

	return &paymentdomain.ChargeResult{
		ProviderOrderID:  intent.ID,
		ProviderChargeID: intent.ID,
		Status:           intentStatus(intent.Status),
	}, nil
}

func (a *Adapter) CreateSubscriptionPlan(ctx context.Context, req paymentdomain.SubscriptionPlanRequest) (string, error) {
	params := &stripeapi.PriceParams{
		UnitAmount: stripeapi.Int64(req.AmountCents),
		Currency:   stripeapi.String(strings.ToLower(req.Currency)),
		Recurring: &stripeapi.PriceRecurringParams{
			Interval:      stripeapi.String(stripeInterval(req.IntervalUnit)),
			IntervalCount: stripeapi.Int64(int64(req.IntervalCount)),
		},
		ProductData: &stripeapi.PriceProductDataParams{
			Name: stripeapi.String(req.Name),
		},
	}
	params.Context = ctx
	if req.OfferCode != "" {
		params.AddMetadata("offer_code", req.OfferCode)
	}

	price, err := a.client.Prices.New(params)
	if err != nil {
		return "", translateErr(err)
	}
	return price.ID, nil
}

func (a *Adapter) GetOrder(ctx context.Context, providerOrderID string) (*paymentdomain.OrderSnapshot, error) {
	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx

	intent, err := a.client.PaymentIntents.Get(providerOrderID, params)
	if err != nil {
		return nil, translateErr(err)
	}

	snapshot := &paymentdomain.OrderSnapshot{
		ProviderOrderID: intent.ID,
		Status:          intentStatus(intent.Status),
		AmountCents:     intent.Amount,
	}
	if snapshot.Status == paymentdomain.OrderPaid && intent.Created > 0 {
		paidAt := time.Unix(intent.Created, 0).UTC()
		snapshot.PaidAt = &paidAt
	}
	return snapshot, nil
}

func (a *Adapter) Refund(ctx context.Context, providerOrderID string, amountCents int64) (*paymentdomain.RefundResult, error) {
	params := &stripeapi.RefundParams{
		PaymentIntent: stripeapi.String(providerOrderID),
	}
	params.Context = ctx
	if amountCents > 0 {
		params.Amount = stripeapi.Int64(amountCents)
	}

	ref, err := a.client.Refunds.New(params)
	if err != nil {
		return nil, translateErr(err)
	}

	return &paymentdomain.RefundResult{
		ProviderRefundID: ref.ID,
		AmountCents:      ref.Amount,
		Status:           paymentdomain.OrderRefunded,
	}, nil
}

func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	_ = ctx
	if a.webhookSecret == "" {
		return paymentdomain.ErrMissingCredential
	}
	sig := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sig == "" {
		return paymentdomain.ErrInvalidSignature
	}
	if _, err := webhook.ConstructEventWithOptions(payload, sig, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}); err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte) (*paymentdomain.WebhookEvent, error) {
	_ = ctx
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		return a.parseIntent(event, payload, paymentdomain.EventTypePaymentSucceeded, paymentdomain.OrderPaid)
	case "payment_intent.payment_failed":
		return a.parseIntent(event, payload, paymentdomain.EventTypePaymentFailed, paymentdomain.OrderFailed)
	case "charge.refunded":
		return a.parseCharge(event, payload)
	case "invoice.payment_succeeded":
		return a.parseInvoice(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeIntent struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
	Currency       string `json:"currency"`
	Created        int64  `json:"created"`
}

type stripeCharge struct {
	ID             string `json:"id"`
	PaymentIntent  string `json:"payment_intent"`
	Amount         int64  `json:"amount"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
	Created        int64  `json:"created"`
}

type stripeInvoice struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Subscription  string `json:"subscription"`
	AmountPaid    int64  `json:"amount_paid"`
	Currency      string `json:"currency"`
	Created       int64  `json:"created"`
}

func (a *Adapter) parseIntent(event stripeEvent, payload []byte, eventType string, status paymentdomain.OrderStatus) (*paymentdomain.WebhookEvent, error) {
	var intent stripeIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	return &paymentdomain.WebhookEvent{
		Provider:        provider.Stripe,
		ProviderEventID: event.ID,
		ProviderOrderID: intent.ID,
		Type:            eventType,
		Status:          status,
		AmountCents:     amount,
		Currency:        strings.ToUpper(strings.TrimSpace(intent.Currency)),
		OccurredAt:      timestamp(intent.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func (a *Adapter) parseCharge(event stripeEvent, payload []byte) (*paymentdomain.WebhookEvent, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	orderID := strings.TrimSpace(charge.PaymentIntent)
	if orderID == "" {
		orderID = strings.TrimSpace(charge.ID)
	}
	if orderID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	amount := charge.AmountRefunded
	if amount <= 0 {
		amount = charge.Amount
	}
	return &paymentdomain.WebhookEvent{
		Provider:        provider.Stripe,
		ProviderEventID: event.ID,
		ProviderOrderID: orderID,
		Type:            paymentdomain.EventTypePaymentRefunded,
		Status:          paymentdomain.OrderRefunded,
		AmountCents:     amount,
		Currency:        strings.ToUpper(strings.TrimSpace(charge.Currency)),
		OccurredAt:      timestamp(charge.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func (a *Adapter) parseInvoice(event stripeEvent, payload []byte) (*paymentdomain.WebhookEvent, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	orderID := strings.TrimSpace(invoice.PaymentIntent)
	if orderID == "" {
		orderID = strings.TrimSpace(invoice.ID)
	}
	if orderID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	return &paymentdomain.WebhookEvent{
		Provider:               provider.Stripe,
		ProviderEventID:        event.ID,
		ProviderOrderID:        orderID,
		ProviderSubscriptionID: strings.TrimSpace(invoice.Subscription),
		Type:                   paymentdomain.EventTypeSubscriptionPaid,
		Status:                 paymentdomain.OrderPaid,
		AmountCents:            invoice.AmountPaid,
		Currency:               strings.ToUpper(strings.TrimSpace(invoice.Currency)),
		OccurredAt:             timestamp(invoice.Created, event.Created),
		RawPayload:             payload,
	}, nil
}

func intentStatus(status stripeapi.PaymentIntentStatus) paymentdomain.OrderStatus {
	switch status {
	case stripeapi.PaymentIntentStatusSucceeded:
		return paymentdomain.OrderPaid
	case stripeapi.PaymentIntentStatusProcessing:
		return paymentdomain.OrderProcessing
	case stripeapi.PaymentIntentStatusCanceled:
		return paymentdomain.OrderCanceled
	case stripeapi.PaymentIntentStatusRequiresPaymentMethod:
		return paymentdomain.OrderFailed
	default:
		return paymentdomain.OrderPending
	}
}

func stripeInterval(unit string) string {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "day", "days":
		return "day"
	case "week", "weeks":
		return "week"
	case "year", "years":
		return "year"
	default:
		return "month"
	}
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripeapi.Error
	if errors.As(err, &stripeErr) {
		code := string(stripeErr.Code)
		switch stripeErr.Type {
		case stripeapi.ErrorTypeCard:
			return paymentdomain.NewProviderError(paymentdomain.ErrPaymentDeclined, code, stripeErr.Msg)
		case stripeapi.ErrorType("authentication_error"):
			return paymentdomain.NewProviderError(paymentdomain.ErrMissingCredential, code, stripeErr.Msg)
		case stripeapi.ErrorTypeIdempotency:
			return paymentdomain.NewProviderError(paymentdomain.ErrDuplicateRequest, code, stripeErr.Msg)
		case stripeapi.ErrorTypeInvalidRequest:
			if stripeErr.HTTPStatusCode == http.StatusNotFound {
				return paymentdomain.NewProviderError(paymentdomain.ErrOrderNotFound, code, stripeErr.Msg)
			}
			return paymentdomain.NewProviderError(paymentdomain.ErrInvalidConfig, code, stripeErr.Msg)
		default:
			return paymentdomain.NewProviderError(paymentdomain.ErrProviderUnavailable, code, stripeErr.Msg)
		}
	}
	return paymentdomain.NewProviderError(paymentdomain.ErrProviderUnavailable, "", err.Error())
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	cast, ok := value.(string)
	return cast, ok
}
