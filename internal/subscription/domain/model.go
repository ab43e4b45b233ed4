package domain

import (
	"errors"
	"time"

	"github.com/clinicware/payrail/internal/provider"
	"gorm.io/datatypes"
)

// Status is the subscription lifecycle state. CANCELED is terminal and is
// entered exactly when canceled_at is set; canceled_at is never unset.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusTrial    Status = "TRIAL"
	StatusActive   Status = "ACTIVE"
	StatusPastDue  Status = "PAST_DUE"
	StatusCanceled Status = "CANCELED"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusTrial, StatusCanceled},
	StatusTrial:   {StatusActive, StatusPastDue, StatusCanceled},
	StatusActive:  {StatusPastDue, StatusCanceled},
	StatusPastDue: {StatusActive, StatusCanceled},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
// Self-transitions are allowed as no-ops.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PagarmeLinkage binds a prepaid subscription to the Pagar.me customer and
// saved card the renewal charge will use.
type PagarmeLinkage struct {
	CustomerID string `json:"customer_id"`
	CardID     string `json:"card_id"`
}

// AppmaxLinkage binds a subscription to the Appmax customer on the clinic's
// account.
type AppmaxLinkage struct {
	CustomerID string `json:"customer_id"`
}

// StripeLinkage mirrors the provider-side subscription for native billing.
type StripeLinkage struct {
	CustomerID     string `json:"customer_id"`
	SubscriptionID string `json:"subscription_id"`
}

// OpenFinanceLinkage points at the recurring consent driving debits.
type OpenFinanceLinkage struct {
	LinkID    string `json:"link_id"`
	ConsentID string `json:"consent_id"`
}

// ProviderLinkage is the provider-tagged variant holding the per-style
// identifiers a renewal needs. Exactly the variant matching the
// subscription's provider is expected to be set; Validate enforces it at the
// prerequisite boundary instead of scattering untyped lookups.
type ProviderLinkage struct {
	Pagarme     *PagarmeLinkage     `json:"pagarme,omitempty"`
	Appmax      *AppmaxLinkage      `json:"appmax,omitempty"`
	Stripe      *StripeLinkage      `json:"stripe,omitempty"`
	OpenFinance *OpenFinanceLinkage `json:"open_finance,omitempty"`
}

var (
	ErrMissingPagarmeCustomer = errors.New("missing_pagarme_customer")
	ErrMissingPagarmeCard     = errors.New("missing_pagarme_card")
	ErrMissingAppmaxCustomer  = errors.New("missing_appmax_customer")
	ErrMissingConsentLink     = errors.New("missing_consent_link")
)

// Validate checks that the linkage required by prov is present. Native
// providers carry no renewal prerequisites here.
func (l ProviderLinkage) Validate(prov provider.Provider) error {
	switch prov {
	case provider.Pagarme, provider.Krxpay:
		if l.Pagarme == nil || l.Pagarme.CustomerID == "" {
			return ErrMissingPagarmeCustomer
		}
		if l.Pagarme.CardID == "" {
			return ErrMissingPagarmeCard
		}
	case provider.Appmax:
		if l.Appmax == nil || l.Appmax.CustomerID == "" {
			return ErrMissingAppmaxCustomer
		}
	case provider.OpenFinance:
		if l.OpenFinance == nil || l.OpenFinance.LinkID == "" {
			return ErrMissingConsentLink
		}
	}
	return nil
}

// CustomerSubscription is the recurring billing relationship. is_native=true
// rows mirror a provider-run billing engine and are only observed;
// is_native=false rows are charged by the renewal scheduler.
type CustomerSubscription struct {
	ID                 int64          `json:"id" gorm:"primaryKey"`
	MerchantID         int64          `json:"merchant_id" gorm:"column:merchant_id;not null;index"`
	CustomerID         int64          `json:"customer_id" gorm:"column:customer_id;not null;index"`
	OfferID            int64          `json:"offer_id" gorm:"column:offer_id;not null"`
	Provider           string         `json:"provider" gorm:"type:text;not null;index:idx_customer_subscriptions_due,priority:1"`
	ProviderSubID      *string        `json:"provider_subscription_id,omitempty" gorm:"column:provider_subscription_id;type:text"`
	IsNative           bool           `json:"is_native" gorm:"not null;default:false;index:idx_customer_subscriptions_due,priority:2"`
	Status             Status         `json:"status" gorm:"type:text;not null;index:idx_customer_subscriptions_due,priority:3"`
	PriceCents         int64          `json:"price_cents" gorm:"not null"`
	Currency           string         `json:"currency" gorm:"type:text;not null;default:'BRL'"`
	IntervalUnit       string         `json:"interval_unit" gorm:"type:text;not null"`
	IntervalCount      int            `json:"interval_count" gorm:"not null;default:1"`
	CurrentPeriodStart time.Time      `json:"current_period_start" gorm:"not null"`
	CurrentPeriodEnd   time.Time      `json:"current_period_end" gorm:"not null;index:idx_customer_subscriptions_due,priority:4"`
	CanceledAt         *time.Time     `json:"canceled_at,omitempty"`
	Linkage            datatypes.JSON `json:"linkage,omitempty" gorm:"type:jsonb"`
	NeedsAttention     bool           `json:"needs_attention" gorm:"not null;default:false"`
	AttentionReason    *string        `json:"attention_reason,omitempty" gorm:"type:text"`
	CreatedAt          time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt          time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (CustomerSubscription) TableName() string { return "customer_subscriptions" }
