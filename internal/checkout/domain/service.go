package domain

import (
	"context"
	"errors"

	customerdomain "github.com/clinicware/payrail/internal/customer/domain"
	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
)

// Service executes a checkout end to end: resolve the unified customer,
// pick a provider, charge, persist the transaction, and open the
// subscription when the offer is recurring.
type Service interface {
	Checkout(ctx context.Context, req Request) (*Result, error)
}

type Request struct {
	MerchantID   int64                      `json:"merchant_id"`
	OfferID      int64                      `json:"offer_id"`
	Country      string                     `json:"country"`
	Method       provider.Method            `json:"method"`
	Installments int                        `json:"installments"`
	Customer     customerdomain.Profile     `json:"customer"`
	Card         *paymentdomain.CardDetails `json:"card,omitempty"`

	// SavedPaymentMethodID reuses a vaulted card instead of tokenizing a new
	// one. Ignored when Card is present.
	SavedPaymentMethodID *int64 `json:"saved_payment_method_id,omitempty"`
}

type Result struct {
	TransactionID   int64             `json:"transaction_id"`
	SubscriptionID  *int64            `json:"subscription_id,omitempty"`
	CustomerID      int64             `json:"customer_id"`
	Provider        provider.Provider `json:"provider"`
	RoutingTier     string            `json:"routing_tier"`
	Status          string            `json:"status"`
	ProviderOrderID string            `json:"provider_order_id,omitempty"`
}

var (
	ErrInvalidRequest = errors.New("invalid_checkout_request")
	ErrOfferInactive  = errors.New("offer_inactive")
	ErrNoPaymentInput = errors.New("no_payment_input")
)
