// Package appmax drives the Appmax v3 REST API. Appmax has no native
// recurring billing, so every subscription renewal is a fresh charge issued
// by the scheduler.
package appmax

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
	"strconv"
	"strings"
	"time"

	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
)

const (
	defaultBaseURL = "https://admin.appmax.com.br/api/v3"
	sandboxBaseURL = "https://homolog.sandboxappmax.com.br/api/v3"
	callTimeout    = 30 * time.Second
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() provider.Provider {
	return provider.Appmax
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	accessToken, _ := readString(cfg.Config, "access_token")
	if strings.TrimSpace(accessToken) == "" {
		return nil, paymentdomain.ErrMissingCredential
	}
	baseURL, _ := readString(cfg.Config, "base_url")
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
		if cfg.Sandbox {
			baseURL = sandboxBaseURL
		}
	}
	webhookSecret, _ := readString(cfg.Config, "webhook_secret")

	return &Adapter{
		merchantID:    cfg.MerchantID,
		accessToken:   strings.TrimSpace(accessToken),
		baseURL:       strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		webhookSecret: strings.TrimSpace(webhookSecret),
		httpClient:    &http.Client{Timeout: callTimeout},
	}, nil
}

type Adapter struct {
	merchantID    int64
	accessToken   string
	baseURL       string
	webhookSecret string
	httpClient    *http.Client
}

func (a *Adapter) Provider() provider.Provider {
	return provider.Appmax
}

func (a *Adapter) CreateCustomer(ctx context.Context, profile paymentdomain.CustomerProfile) (string, error) {
	firstName, lastName := splitName(profile.Name)
	body := map[string]any{
		"firstname": firstName,
		"lastname":  lastName,
		"email":     profile.Email,
		"telephone": onlyDigits(profile.Phone),
		"document":  onlyDigits(profile.Document),
	}

	var resp struct {
		Data struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if err := a.do(ctx, "/customer", body, &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == 0 {
		return "", paymentdomain.NewProviderError(paymentdomain.ErrInvalidPayload, "", "customer id missing in response")
	}
	return strconv.FormatInt(resp.Data.ID, 10), nil
}

func (a *Adapter) TokenizeCard(ctx context.Context, customerRef string, card paymentdomain.CardDetails) (*paymentdomain.CardToken, error) {
	body := map[string]any{
		"card": map[string]any{
			"number":          onlyDigits(card.Number),
			"name":            card.Holder,
			"month":           card.ExpMonth,
			"year":            card.ExpYear,
			"cvv":             card.CVV,
			"document_number": "",
		},
	}

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := a.do(ctx, "/tokenize/card", body, &resp); err != nil {
		return nil, err
	}
	if resp.Data.Token == "" {
		return nil, paymentdomain.NewProviderError(paymentdomain.ErrInvalidPayload, "", "card token missing in response")
	}

	number := onlyDigits(card.Number)
	last4 := number
	if len(number) > 4 {
		last4 = number[len(number)-4:]
	}
	return &paymentdomain.CardToken{
		ProviderCardID: resp.Data.Token,
		Last4:          last4,
		ExpMonth:       card.ExpMonth,
		ExpYear:        card.ExpYear,
	}, nil
}

func (a *Adapter) CreateCharge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	customerID, err := strconv.ParseInt(strings.TrimSpace(req.ProviderCustomerID), 10, 64)
	if err != nil {
		return nil, paymentdomain.ErrInvalidConfig
	}

	orderBody := map[string]any{
		"total":       centsToDecimal(req.AmountCents),
		"customer_id": customerID,
		"products": []map[string]any{{
			"sku":   "charge",
			"name":  orDefault(req.Description, "charge"),
			"qty":   1,
			"price": centsToDecimal(req.AmountCents),
		}},
	}

	var orderResp struct {
		Data struct {
			ID int64 `json:"id"`
		} `json:"data"`
	}
	if err := a.do(ctx, "/order", orderBody, &orderResp); err != nil {
		return nil, err
	}
	if orderResp.Data.ID == 0 {
		return nil, paymentdomain.NewProviderError(paymentdomain.ErrInvalidPayload, "", "order id missing in response")
	}
	orderID := strconv.FormatInt(orderResp.Data.ID, 10)

	var payPath string
	payBody := map[string]any{
		"cart":     map[string]any{"order_id": orderResp.Data.ID},
		"customer": map[string]any{"customer_id": customerID},
	}
	switch req.Method {
	case provider.MethodPix:
		payPath = "/payment/pix"
		payBody["payment"] = map[string]any{
			"pix": map[string]any{
				"document_number": req.Metadata["document"],
				"expiration_date": time.Now().UTC().Add(time.Hour).Format("2006-01-02 15:04:05"),
			},
		}
	case provider.MethodBoleto:
		payPath = "/payment/boleto"
		payBody["payment"] = map[string]any{
			"boleto": map[string]any{
				"document_number": req.Metadata["document"],
			},
		}
	default:
		if strings.TrimSpace(req.CardToken) == "" {
			return nil, paymentdomain.ErrInvalidConfig
		}
		installments := req.Installments
		if installments <= 0 {
			installments = 1
		}
		payPath = "/payment/credit-card"
		payBody["payment"] = map[string]any{
			"credit_card": map[string]any{
				"token":           req.CardToken,
				"installments":    installments,
				"document_number": req.Metadata["document"],
				"soft_descriptor": "PAYRAIL",
			},
		}
	}

	var payResp struct {
		Success bool `json:"success"`
		Data    struct {
			PayReference string `json:"pay_reference"`
		} `json:"data"`
	}
	if err := a.do(ctx, payPath, payBody, &payResp); err != nil {
		return nil, err
	}

	status := paymentdomain.OrderProcessing
	if payResp.Success && req.Method != provider.MethodPix && req.Method != provider.MethodBoleto {
		status = paymentdomain.OrderPaid
	}
	if req.Method == provider.MethodPix || req.Method == provider.MethodBoleto {
		status = paymentdomain.OrderPending
	}
	return &paymentdomain.ChargeResult{
		ProviderOrderID:  orderID,
		ProviderChargeID: payResp.Data.PayReference,
		Status:           status,
	}, nil
}

// CreateSubscriptionPlan is unsupported: Appmax has no native billing engine.
func (a *Adapter) CreateSubscriptionPlan(ctx context.Context, req paymentdomain.SubscriptionPlanRequest) (string, error) {
	_ = ctx
	_ = req
	return "", paymentdomain.ErrInvalidConfig
}

func (a *Adapter) GetOrder(ctx context.Context, providerOrderID string) (*paymentdomain.OrderSnapshot, error) {
	var resp struct {
		Data struct {
			ID          int64  `json:"id"`
			Status      string `json:"status"`
			Total       string `json:"total"`
			PaidAt      string `json:"paid_at"`
			TotalAmount string `json:"total_amount"`
		} `json:"data"`
	}
	if err := a.do(ctx, fmt.Sprintf("/order/%s", strings.TrimSpace(providerOrderID)), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == 0 {
		return nil, paymentdomain.ErrOrderNotFound
	}

	snapshot := &paymentdomain.OrderSnapshot{
		ProviderOrderID: strconv.FormatInt(resp.Data.ID, 10),
		Status:          orderStatus(resp.Data.Status),
		AmountCents:     decimalToCents(orDefault(resp.Data.Total, resp.Data.TotalAmount)),
	}
	if snapshot.Status == paymentdomain.OrderPaid {
		if paidAt := parseTime(resp.Data.PaidAt); !paidAt.IsZero() {
			snapshot.PaidAt = &paidAt
		}
	}
	return snapshot, nil
}

func (a *Adapter) Refund(ctx context.Context, providerOrderID string, amountCents int64) (*paymentdomain.RefundResult, error) {
	body := map[string]any{
		"order_id":    strings.TrimSpace(providerOrderID),
		"refund_type": "total",
	}
	if amountCents > 0 {
		body["refund_type"] = "partial"
		body["refund_amount"] = centsToDecimal(amountCents)
	}

	var resp struct {
		Success bool `json:"success"`
	}
	if err := a.do(ctx, "/refund", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, paymentdomain.NewProviderError(paymentdomain.ErrPaymentDeclined, "", "refund rejected")
	}
	return &paymentdomain.RefundResult{
		ProviderRefundID: providerOrderID,
		AmountCents:      amountCents,
		Status:           paymentdomain.OrderRefunded,
	}, nil
}

func (a *Adapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	_ = ctx
	if a.webhookSecret == "" {
		return paymentdomain.ErrMissingCredential
	}
	signature := strings.TrimSpace(headers.Get("X-Appmax-Signature"))
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
		Event string `json:"event"`
		Data  struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
			Total  string `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if event.Data.ID == 0 {
		return nil, paymentdomain.ErrInvalidEvent
	}

	var eventType string
	var status paymentdomain.OrderStatus
	switch strings.TrimSpace(event.Event) {
	case "OrderPaid", "OrderApproved":
		eventType = paymentdomain.EventTypePaymentSucceeded
		status = paymentdomain.OrderPaid
	case "PaymentNotAuthorized":
		eventType = paymentdomain.EventTypePaymentFailed
		status = paymentdomain.OrderFailed
	case "OrderRefund", "ChargebackDispute":
		eventType = paymentdomain.EventTypePaymentRefunded
		status = paymentdomain.OrderRefunded
	case "BoletoExpired", "PixExpired":
		eventType = paymentdomain.EventTypePaymentFailed
		status = paymentdomain.OrderExpired
	default:
		return nil, paymentdomain.ErrEventIgnored
	}

	orderID := strconv.FormatInt(event.Data.ID, 10)
	return &paymentdomain.WebhookEvent{
		Provider:        provider.Appmax,
		ProviderEventID: fmt.Sprintf("%s:%s", event.Event, orderID),
		ProviderOrderID: orderID,
		Type:            eventType,
		Status:          status,
		AmountCents:     decimalToCents(event.Data.Total),
		Currency:        "BRL",
		OccurredAt:      time.Now().UTC(),
		RawPayload:      payload,
	}, nil
}

func (a *Adapter) do(ctx context.Context, path string, body any, out any) error {
	method := http.MethodPost
	if body == nil {
		method = http.MethodGet
	}

	payload := map[string]any{"access-token": a.accessToken}
	if casted, ok := body.(map[string]any); ok {
		for key, value := range casted {
			payload[key] = value
		}
	}

	var reader io.Reader
	url := a.baseURL + path
	if method == http.MethodGet {
		url = fmt.Sprintf("%s?access-token=%s", url, a.accessToken)
	} else {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

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
		Text    string `json:"text"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &body)
	message := orDefault(body.Text, body.Message)
	code := fmt.Sprintf("http_%d", status)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return paymentdomain.NewProviderError(paymentdomain.ErrMissingCredential, code, message)
	case status == http.StatusNotFound:
		return paymentdomain.NewProviderError(paymentdomain.ErrOrderNotFound, code, message)
	case status == http.StatusTooManyRequests || status >= 500:
		return paymentdomain.NewProviderError(paymentdomain.ErrProviderUnavailable, code, message)
	case status == http.StatusPaymentRequired || status == http.StatusPreconditionFailed:
		return paymentdomain.NewProviderError(paymentdomain.ErrPaymentDeclined, code, message)
	default:
		return paymentdomain.NewProviderError(paymentdomain.ErrInvalidConfig, code, message)
	}
}

func orderStatus(status string) paymentdomain.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "aprovado", "approved", "pago", "paid", "integrado":
		return paymentdomain.OrderPaid
	case "pendente", "pending", "aguardando pagamento":
		return paymentdomain.OrderPending
	case "autorizado", "processing":
		return paymentdomain.OrderProcessing
	case "cancelado", "canceled":
		return paymentdomain.OrderCanceled
	case "estornado", "refunded":
		return paymentdomain.OrderRefunded
	case "recusado", "refused", "failed":
		return paymentdomain.OrderFailed
	default:
		return paymentdomain.OrderPending
	}
}

func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	idx := strings.Index(full, " ")
	if idx < 0 {
		return full, ""
	}
	return full[:idx], strings.TrimSpace(full[idx+1:])
}

func centsToDecimal(cents int64) float64 {
	return float64(cents) / 100
}

func decimalToCents(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return int64(parsed*100 + 0.5)
}

func parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
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

func onlyDigits(raw string) string {
	var sb strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
