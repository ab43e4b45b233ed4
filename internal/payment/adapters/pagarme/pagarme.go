// Package pagarme drives the Pagar.me core v5 REST API. KRXPAY is a
// white-label of the same API, so the factory is parameterized by provider
// and registered twice.
package pagarme

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
)

const (
	defaultBaseURL = "https://api.pagar.me/core/v5"
	callTimeout    = 30 * time.Second
)

type Factory struct {
	provider provider.Provider
}

// NewFactory builds a factory for the given provider flavor. Only PAGARME
// and KRXPAY share this API surface.
func NewFactory(p provider.Provider) *Factory {
	return &Factory{provider: p}
}

func (f *Factory) Provider() provider.Provider {
	return f.provider
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	apiKey, _ := readString(cfg.Config, "api_key")
	if strings.TrimSpace(apiKey) == "" {
		return nil, paymentdomain.ErrMissingCredential
	}
	baseURL, _ := readString(cfg.Config, "base_url")
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	webhookSecret, _ := readString(cfg.Config, "webhook_secret")

	return &Adapter{
		provider:      f.provider,
		merchantID:    cfg.MerchantID,
		apiKey:        strings.TrimSpace(apiKey),
		baseURL:       strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		webhookSecret: strings.TrimSpace(webhookSecret),
		httpClient:    &http.Client{Timeout: callTimeout},
	}, nil
}

type Adapter struct {
	provider      provider.Provider
	merchantID    int64
	apiKey        string
	baseURL       string
	webhookSecret string
	httpClient    *http.Client
}

func (a *Adapter) Provider() provider.Provider {
	return a.provider
}

func (a *Adapter) CreateCustomer(ctx context.Context, profile paymentdomain.CustomerProfile) (string, error) {
	docType := "cpf"
	if len(onlyDigits(profile.Document)) == 14 {
		docType = "cnpj"
	}
	body := map[string]any{
		"name":          profile.Name,
		"email":         profile.Email,
		"document":      onlyDigits(profile.Document),
		"document_type": docType,
		"type":          "individual",
	}
	if docType == "cnpj" {
		body["type"] = "company"
	}
	if digits := onlyDigits(profile.Phone); len(digits) >= 10 {
		body["phones"] = map[string]any{
			"mobile_phone": map[string]string{
				"country_code": "55",
				"area_code":    digits[:2],
				"number":       digits[2:],
			},
		}
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/customers", "", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", paymentdomain.NewProviderError(paymentdomain.ErrInvalidPayload, "", "customer id missing in response")
	}
	return resp.ID, nil
}

func (a *Adapter) TokenizeCard(ctx context.Context, customerRef string, card paymentdomain.CardDetails) (*paymentdomain.CardToken, error) {
	if strings.TrimSpace(customerRef) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	body := map[string]any{
		"number":      onlyDigits(card.Number),
		"holder_name": card.Holder,
		"exp_month":   card.ExpMonth,
		"exp_year":    card.ExpYear,
		"cvv":         card.CVV,
	}

	var resp struct {
		ID       string `json:"id"`
		Brand    string `json:"brand"`
		LastFour string `json:"last_four_digits"`
		ExpMonth int    `json:"exp_month"`
		ExpYear  int    `json:"exp_year"`
	}
	path := fmt.Sprintf("/customers/%s/cards", customerRef)
	if err := a.do(ctx, http.MethodPost, path, "", body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, paymentdomain.NewProviderError(paymentdomain.ErrInvalidPayload, "", "card id missing in response")
	}
	return &paymentdomain.CardToken{
		ProviderCardID: resp.ID,
		Brand:          resp.Brand,
		Last4:          resp.LastFour,
		ExpMonth:       resp.ExpMonth,
		ExpYear:        resp.ExpYear,
	}, nil
}

func (a *Adapter) CreateCharge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	payment := map[string]any{}
	switch req.Method {
	case provider.MethodPix:
		payment["payment_method"] = "pix"
		payment["pix"] = map[string]any{"expires_in": 3600}
	case provider.MethodBoleto:
		payment["payment_method"] = "boleto"
	default:
		if strings.TrimSpace(req.CardToken) == "" {
			return nil, paymentdomain.ErrInvalidConfig
		}
		installments := req.Installments
		if installments <= 0 {
			installments = 1
		}
		payment["payment_method"] = "credit_card"
		payment["credit_card"] = map[string]any{
			"card_id":              req.CardToken,
			"installments":         installments,
			"statement_descriptor": "PAYRAIL",
		}
	}

	description := req.Description
	if description == "" {
		description = "charge"
	}
	body := map[string]any{
		"customer_id": req.ProviderCustomerID,
		"items": []map[string]any{{
			"amount":      req.AmountCents,
			"description": description,
			"quantity":    1,
		}},
		"payments": []map[string]any{payment},
		"closed":   true,
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var resp orderResponse
	if err := a.do(ctx, http.MethodPost, "/orders", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, paymentdomain.NewProviderError(paymentdomain.ErrInvalidPayload, "", "order id missing in response")
	}

	result := &paymentdomain.ChargeResult{
		ProviderOrderID: resp.ID,
		Status:          orderStatus(resp.Status),
	}
	if len(resp.Charges) > 0 {
		result.ProviderChargeID = resp.Charges[0].ID
	}
	return result, nil
}

func (a *Adapter) CreateSubscriptionPlan(ctx context.Context, req paymentdomain.SubscriptionPlanRequest) (string, error) {
	body := map[string]any{
		"name":           req.Name,
		"billing_type":   "prepaid",
		"interval":       planInterval(req.IntervalUnit),
		"interval_count": req.IntervalCount,
		"payment_methods": []string{
			"credit_card",
		},
		"items": []map[string]any{{
			"name":     req.Name,
			"quantity": 1,
			"pricing_scheme": map[string]any{
				"price": req.AmountCents,
			},
		}},
	}
	if req.TrialDays > 0 {
		body["trial_period_days"] = req.TrialDays
	}
	if req.OfferCode != "" {
		body["metadata"] = map[string]string{"offer_code": req.OfferCode}
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/plans", "", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", paymentdomain.NewProviderError(paymentdomain.ErrInvalidPayload, "", "plan id missing in response")
	}
	return resp.ID, nil
}

func (a *Adapter) GetOrder(ctx context.Context, providerOrderID string) (*paymentdomain.OrderSnapshot, error) {
	var resp orderResponse
	path := fmt.Sprintf("/orders/%s", providerOrderID)
	if err := a.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, paymentdomain.ErrOrderNotFound
	}

	snapshot := &paymentdomain.OrderSnapshot{
		ProviderOrderID: resp.ID,
		Status:          orderStatus(resp.Status),
		AmountCents:     resp.Amount,
	}
	if snapshot.Status == paymentdomain.OrderPaid && len(resp.Charges) > 0 {
		if paidAt := parseTime(resp.Charges[0].PaidAt); !paidAt.IsZero() {
			snapshot.PaidAt = &paidAt
		}
	}
	return snapshot, nil
}

func (a *Adapter) Refund(ctx context.Context, providerOrderID string, amountCents int64) (*paymentdomain.RefundResult, error) {
	var order orderResponse
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/orders/%s", providerOrderID), "", nil, &order); err != nil {
		return nil, err
	}
	if len(order.Charges) == 0 {
		return nil, paymentdomain.ErrOrderNotFound
	}

	chargeID := order.Charges[0].ID
	path := fmt.Sprintf("/charges/%s", chargeID)
	var body map[string]any
	if amountCents > 0 {
		body = map[string]any{"amount": amountCents}
	}

	var resp struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
	}
	if err := a.do(ctx, http.MethodDelete, path, "", body, &resp); err != nil {
		return nil, err
	}

	amount := resp.Amount
	if amountCents > 0 {
		amount = amountCents
	}
	return &paymentdomain.RefundResult{
		ProviderRefundID: resp.ID,
		AmountCents:      amount,
		Status:           paymentdomain.OrderRefunded,
	}, nil
}

func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	_ = ctx
	if a.webhookSecret == "" {
		return paymentdomain.ErrMissingCredential
	}
	signature := strings.TrimSpace(headers.Get("X-Hub-Signature"))
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return paymentdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) ParseWebhook(ctx context.Context, payload []byte) (*paymentdomain.WebhookEvent, error) {
	_ = ctx
	var event struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		CreatedAt string `json:"created_at"`
		Data      struct {
			ID     string `json:"id"`
			Code   string `json:"code"`
			Amount int64  `json:"amount"`
			Status string `json:"status"`
			Order  struct {
				ID string `json:"id"`
			} `json:"order"`
			Currency string `json:"currency"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var eventType string
	var status paymentdomain.OrderStatus
	switch strings.TrimSpace(event.Type) {
	case "order.paid":
		eventType = paymentdomain.EventTypePaymentSucceeded
		status = paymentdomain.OrderPaid
	case "order.payment_failed":
		eventType = paymentdomain.EventTypePaymentFailed
		status = paymentdomain.OrderFailed
	case "order.canceled":
		eventType = paymentdomain.EventTypePaymentFailed
		status = paymentdomain.OrderCanceled
	case "charge.refunded":
		eventType = paymentdomain.EventTypePaymentRefunded
		status = paymentdomain.OrderRefunded
	case "subscription.charged", "invoice.paid":
		eventType = paymentdomain.EventTypeSubscriptionPaid
		status = paymentdomain.OrderPaid
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	orderID := strings.TrimSpace(event.Data.Order.ID)
	if orderID == "" {
		orderID = strings.TrimSpace(event.Data.ID)
	}
	if orderID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	currency := strings.ToUpper(strings.TrimSpace(event.Data.Currency))
	if currency == "" {
		currency = "BRL"
	}
	occurredAt := parseTime(event.CreatedAt)
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return &paymentdomain.WebhookEvent{
		Provider:        a.provider,
		ProviderEventID: event.ID,
		ProviderOrderID: orderID,
		Type:            eventType,
		Status:          status,
		AmountCents:     event.Data.Amount,
		Currency:        currency,
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
}

type orderResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
	Charges []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		PaidAt string `json:"paid_at"`
	} `json:"charges"`
}

func (a *Adapter) do(ctx context.Context, method, path, idempotencyKey string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(a.apiKey, "")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return paymentdomain.NewProviderError(paymentdomain.ErrProviderUnavailable, "", err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return paymentdomain.NewProviderError(paymentdomain.ErrProviderUnavailable, "", err.Error())
	}

	if resp.StatusCode >= 400 {
		return translateHTTPError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return paymentdomain.ErrInvalidPayload
	}
	return nil
}

func translateHTTPError(status int, raw []byte) error {
	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &body)
	code := fmt.Sprintf("http_%d", status)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return paymentdomain.NewProviderError(paymentdomain.ErrMissingCredential, code, body.Message)
	case status == http.StatusNotFound:
		return paymentdomain.NewProviderError(paymentdomain.ErrOrderNotFound, code, body.Message)
	case status == http.StatusConflict:
		return paymentdomain.NewProviderError(paymentdomain.ErrDuplicateRequest, code, body.Message)
	case status == http.StatusPreconditionFailed || status == http.StatusPaymentRequired:
		// Gateway refusal: declined card, insufficient funds.
		return paymentdomain.NewProviderError(paymentdomain.ErrPaymentDeclined, code, body.Message)
	case status == http.StatusTooManyRequests || status >= 500:
		return paymentdomain.NewProviderError(paymentdomain.ErrProviderUnavailable, code, body.Message)
	default:
		return paymentdomain.NewProviderError(paymentdomain.ErrInvalidConfig, code, body.Message)
	}
}

func orderStatus(status string) paymentdomain.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "paid":
		return paymentdomain.OrderPaid
	case "pending":
		return paymentdomain.OrderPending
	case "processing":
		return paymentdomain.OrderProcessing
	case "canceled":
		return paymentdomain.OrderCanceled
	case "failed":
		return paymentdomain.OrderFailed
	default:
		return paymentdomain.OrderPending
	}
}

func planInterval(unit string) string {
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

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func onlyDigits(raw string) string {
	var sb strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	cast, ok := value.(string)
	return cast, ok
}
