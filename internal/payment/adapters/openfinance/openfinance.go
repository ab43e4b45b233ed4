// Package openfinance drives a Brazilian Open Finance aggregator's REST API.
// Charges debit a previously authorized recurring consent; there is no card
// tokenization in this rail.
package openfinance

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
	defaultBaseURL = "https://api.openfinance-aggregator.com.br/v1"
	callTimeout    = 30 * time.Second
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() provider.Provider {
	return provider.OpenFinance
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	clientID, _ := readString(cfg.Config, "client_id")
	clientSecret, _ := readString(cfg.Config, "client_secret")
	if strings.TrimSpace(clientID) == "" || strings.TrimSpace(clientSecret) == "" {
		return nil, paymentdomain.ErrMissingCredential
	}
	baseURL, _ := readString(cfg.Config, "base_url")
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	webhookSecret, _ := readString(cfg.Config, "webhook_secret")

	return &Adapter{
		merchantID:    cfg.MerchantID,
		clientID:      strings.TrimSpace(clientID),
		clientSecret:  strings.TrimSpace(clientSecret),
		baseURL:       strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		webhookSecret: strings.TrimSpace(webhookSecret),
		httpClient:    &http.Client{Timeout: callTimeout},
	}, nil
}

type Adapter struct {
	merchantID    int64
	clientID      string
	clientSecret  string
	baseURL       string
	webhookSecret string
	httpClient    *http.Client
}

func (a *Adapter) Provider() provider.Provider {
	return provider.OpenFinance
}

func (a *Adapter) CreateCustomer(ctx context.Context, profile paymentdomain.CustomerProfile) (string, error) {
	body := map[string]any{
		"name":     profile.Name,
		"email":    profile.Email,
		"document": onlyDigits(profile.Document),
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/users", "", body, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", paymentdomain.NewProviderError(paymentdomain.ErrInvalidPayload, "", "user id missing in response")
	}
	return resp.ID, nil
}

// TokenizeCard is unsupported: Open Finance debits bank accounts via consent.
func (a *Adapter) TokenizeCard(ctx context.Context, customerRef string, card paymentdomain.CardDetails) (*paymentdomain.CardToken, error) {
	_ = ctx
	_ = customerRef
	_ = card
	return nil, paymentdomain.ErrInvalidConfig
}

func (a *Adapter) CreateCharge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	if strings.TrimSpace(req.ConsentRef) == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	body := map[string]any{
		"consent_id":  req.ConsentRef,
		"amount":      req.AmountCents,
		"currency":    orDefault(req.Currency, "BRL"),
		"description": req.Description,
	}

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := a.do(ctx, http.MethodPost, "/payments", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, paymentdomain.NewProviderError(paymentdomain.ErrInvalidPayload, "", "payment id missing in response")
	}

	return &paymentdomain.ChargeResult{
		ProviderOrderID:  resp.ID,
		ProviderChargeID: resp.ID,
		Status:           paymentStatus(resp.Status),
	}, nil
}

// CreateSubscriptionPlan is unsupported: recurring schedules live on the
// consent, not on a provider-side plan.
func (a *Adapter) CreateSubscriptionPlan(ctx context.Context, req paymentdomain.SubscriptionPlanRequest) (string, error) {
	_ = ctx
	_ = req
	return "", paymentdomain.ErrInvalidConfig
}

func (a *Adapter) GetOrder(ctx context.Context, providerOrderID string) (*paymentdomain.OrderSnapshot, error) {
	var resp struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Amount    int64  `json:"amount"`
		SettledAt string `json:"settled_at"`
	}
	path := fmt.Sprintf("/payments/%s", strings.TrimSpace(providerOrderID))
	if err := a.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, paymentdomain.ErrOrderNotFound
	}

	snapshot := &paymentdomain.OrderSnapshot{
		ProviderOrderID: resp.ID,
		Status:          paymentStatus(resp.Status),
		AmountCents:     resp.Amount,
	}
	if snapshot.Status == paymentdomain.OrderPaid {
		if settled := parseTime(resp.SettledAt); !settled.IsZero() {
			snapshot.PaidAt = &settled
		}
	}
	return snapshot, nil
}

func (a *Adapter) Refund(ctx context.Context, providerOrderID string, amountCents int64) (*paymentdomain.RefundResult, error) {
	body := map[string]any{}
	if amountCents > 0 {
		body["amount"] = amountCents
	}

	var resp struct {
		ID     string `json:"id"`
		Amount int64  `json:"amount"`
	}
	path := fmt.Sprintf("/payments/%s/refunds", strings.TrimSpace(providerOrderID))
	if err := a.do(ctx, http.MethodPost, path, "", body, &resp); err != nil {
		return nil, err
	}

	amount := resp.Amount
	if amount == 0 {
		amount = amountCents
	}
	return &paymentdomain.RefundResult{
		ProviderRefundID: resp.ID,
		AmountCents:      amount,
		Status:           paymentdomain.OrderRefunded,
	}, nil
}

// ConsentRequest starts a device-bound recurring authorization. The customer
// finishes it with FIDO approval in their bank app; completion arrives via
// webhook.
type ConsentRequest struct {
	ProviderUserID string
	AmountCents    int64
	Periodicity    string // DAILY, WEEKLY, MONTHLY
	RedirectURL    string
}

// ConsentResult carries the aggregator-side identifiers for a new consent.
type ConsentResult struct {
	LinkID     string
	ConsentID  string
	ContractID string
	AuthURL    string
	Status     string
}

// CreateRecurringConsent registers a recurring debit authorization request.
func (a *Adapter) CreateRecurringConsent(ctx context.Context, req ConsentRequest) (*ConsentResult, error) {
	body := map[string]any{
		"user_id":     req.ProviderUserID,
		"amount":      req.AmountCents,
		"periodicity": strings.ToUpper(strings.TrimSpace(req.Periodicity)),
	}
	if req.RedirectURL != "" {
		body["redirect_url"] = req.RedirectURL
	}

	var resp struct {
		LinkID     string `json:"link_id"`
		ConsentID  string `json:"consent_id"`
		ContractID string `json:"contract_id"`
		AuthURL    string `json:"auth_url"`
		Status     string `json:"status"`
	}
	if err := a.do(ctx, http.MethodPost, "/consents/recurring", "", body, &resp); err != nil {
		return nil, err
	}
	if resp.LinkID == "" {
		return nil, paymentdomain.NewProviderError(paymentdomain.ErrInvalidPayload, "", "link id missing in response")
	}
	return &ConsentResult{
		LinkID:     resp.LinkID,
		ConsentID:  resp.ConsentID,
		ContractID: resp.ContractID,
		AuthURL:    resp.AuthURL,
		Status:     resp.Status,
	}, nil
}

func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	_ = ctx
	if a.webhookSecret == "" {
		return paymentdomain.ErrMissingCredential
	}
	signature := strings.TrimSpace(headers.Get("X-Signature"))
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
			PaymentID string `json:"payment_id"`
			ConsentID string `json:"consent_id"`
			Amount    int64  `json:"amount"`
			Status    string `json:"status"`
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
	case "payment.settled":
		eventType = paymentdomain.EventTypePaymentSucceeded
		status = paymentdomain.OrderPaid
	case "payment.rejected":
		eventType = paymentdomain.EventTypePaymentFailed
		status = paymentdomain.OrderFailed
	case "payment.canceled":
		eventType = paymentdomain.EventTypePaymentFailed
		status = paymentdomain.OrderCanceled
	case "consent.revoked":
		eventType = paymentdomain.EventTypeConsentRevoked
		status = paymentdomain.OrderCanceled
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	orderID := strings.TrimSpace(event.Data.PaymentID)
	if orderID == "" {
		orderID = strings.TrimSpace(event.Data.ConsentID)
	}
	if orderID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	occurredAt := parseTime(event.CreatedAt)
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return &paymentdomain.WebhookEvent{
		Provider:        provider.OpenFinance,
		ProviderEventID: event.ID,
		ProviderOrderID: orderID,
		Type:            eventType,
		Status:          status,
		AmountCents:     event.Data.Amount,
		Currency:        "BRL",
		OccurredAt:      occurredAt,
		RawPayload:      payload,
	}, nil
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
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
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
		Code    string `json:"code"`
	}
	_ = json.Unmarshal(raw, &body)
	code := body.Code
	if code == "" {
		code = fmt.Sprintf("http_%d", status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return paymentdomain.NewProviderError(paymentdomain.ErrMissingCredential, code, body.Message)
	case status == http.StatusNotFound:
		return paymentdomain.NewProviderError(paymentdomain.ErrOrderNotFound, code, body.Message)
	case status == http.StatusConflict:
		return paymentdomain.NewProviderError(paymentdomain.ErrDuplicateRequest, code, body.Message)
	case status == http.StatusUnprocessableEntity:
		// Consent revoked or debit refused by the holder's bank.
		return paymentdomain.NewProviderError(paymentdomain.ErrPaymentDeclined, code, body.Message)
	case status == http.StatusTooManyRequests || status >= 500:
		return paymentdomain.NewProviderError(paymentdomain.ErrProviderUnavailable, code, body.Message)
	default:
		return paymentdomain.NewProviderError(paymentdomain.ErrInvalidConfig, code, body.Message)
	}
}

func paymentStatus(status string) paymentdomain.OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SETTLED", "ACCC", "ACSC":
		return paymentdomain.OrderPaid
	case "PENDING", "RCVD", "PATC":
		return paymentdomain.OrderPending
	case "PROCESSING", "ACCP", "PDNG":
		return paymentdomain.OrderProcessing
	case "REJECTED", "RJCT":
		return paymentdomain.OrderFailed
	case "CANCELED", "CANC":
		return paymentdomain.OrderCanceled
	case "EXPIRED":
		return paymentdomain.OrderExpired
	default:
		return paymentdomain.OrderPending
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

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func readString(config map[string]any, key string) (string, bool) {
	value, ok := config[key]
	if !ok {
		return "", false
	}
	cast, ok := value.(string)
	return cast, ok
}
