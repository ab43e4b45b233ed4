// Package domain contains the uniform provider adapter contract, the shared
// error taxonomy, and the canonical webhook event parsed by adapters.
package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/clinicware/payrail/internal/provider"
)

// CustomerProfile is the provider-agnostic customer payload sent when
// creating a customer record at a provider.
type CustomerProfile struct {
	Name     string
	Email    string
	Document string // CPF (11 digits) or CNPJ (14 digits)
	Phone    string
	Country  string
}

// CardDetails carries raw card data for tokenization. It never touches the
// database; only the resulting token is persisted.
type CardDetails struct {
	Number   string
	Holder   string
	ExpMonth int
	ExpYear  int
	CVV      string
}

// CardToken is the vault reference returned by tokenization.
type CardToken struct {
	ProviderCardID string
	Brand          string
	Last4          string
	ExpMonth       int
	ExpYear        int
}

// ChargeRequest describes a single charge/order creation.
type ChargeRequest struct {
	AmountCents        int64
	Currency           string
	ProviderCustomerID string
	CardToken          string
	ConsentRef         string
	Method             provider.Method
	Installments       int
	Description        string
	IdempotencyKey     string
	Metadata           map[string]string
}

// ChargeResult is the provider's answer to a charge attempt.
type ChargeResult struct {
	ProviderOrderID  string
	ProviderChargeID string
	Status           OrderStatus
}

// OrderStatus is the provider-agnostic view of a remote order's state.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderPaid       OrderStatus = "PAID"
	OrderFailed     OrderStatus = "FAILED"
	OrderCanceled   OrderStatus = "CANCELED"
	OrderExpired    OrderStatus = "EXPIRED"
	OrderRefunded   OrderStatus = "REFUNDED"
)

// Terminal reports whether the remote order can no longer change state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderPaid, OrderFailed, OrderCanceled, OrderExpired, OrderRefunded:
		return true
	}
	return false
}

// OrderSnapshot is the result of re-querying a provider order by ID.
type OrderSnapshot struct {
	ProviderOrderID string
	Status          OrderStatus
	AmountCents     int64
	PaidAt          *time.Time
}

// RefundResult reports the outcome of a refund call.
type RefundResult struct {
	ProviderRefundID string
	AmountCents      int64
	Status           OrderStatus
}

// SubscriptionPlanRequest is only honored by native-billing providers.
type SubscriptionPlanRequest struct {
	OfferCode     string
	Name          string
	AmountCents   int64
	Currency      string
	IntervalUnit  string
	IntervalCount int
	TrialDays     int
}

// Adapter is the uniform capability surface every provider integration
// exposes. Implementations translate provider-specific success/error shapes
// into the taxonomy in errors.go. Every call honors ctx deadlines; on
// timeout callers must leave local state non-terminal and let the
// reconciliation sweep settle it.
type Adapter interface {
	Provider() provider.Provider

	CreateCustomer(ctx context.Context, profile CustomerProfile) (string, error)
	TokenizeCard(ctx context.Context, customerRef string, card CardDetails) (*CardToken, error)
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	CreateSubscriptionPlan(ctx context.Context, req SubscriptionPlanRequest) (string, error)
	GetOrder(ctx context.Context, providerOrderID string) (*OrderSnapshot, error)
	Refund(ctx context.Context, providerOrderID string, amountCents int64) (*RefundResult, error)

	// VerifyWebhook authenticates an inbound webhook request.
	VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error
	// ParseWebhook converts an inbound webhook into the canonical event.
	// Uninteresting event types return ErrEventIgnored.
	ParseWebhook(ctx context.Context, payload []byte) (*WebhookEvent, error)
}

// AdapterConfig carries decrypted merchant credentials into a factory.
type AdapterConfig struct {
	MerchantID int64
	Sandbox    bool
	Config     map[string]any
}

// AdapterFactory builds adapters for one provider from per-merchant config.
type AdapterFactory interface {
	Provider() provider.Provider
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

// WebhookEvent is the canonical inbound event parsed from a provider webhook.
// ProviderSubscriptionID is only set by native-billing providers on renewal
// events; it lets the mirror sync find the local subscription when no local
// order exists.
type WebhookEvent struct {
	Provider               provider.Provider
	ProviderEventID        string
	ProviderOrderID        string
	ProviderSubscriptionID string
	Type                   string
	Status                 OrderStatus
	AmountCents            int64
	Currency               string
	OccurredAt             time.Time
	RawPayload             []byte
}

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypePaymentRefunded  = "payment_refunded"
	EventTypeSubscriptionPaid = "subscription_paid"
	EventTypeConsentRevoked   = "consent_revoked"
)
