package domain

import (
	"context"
	"errors"
	"time"

	"github.com/clinicware/payrail/internal/provider"
	"gorm.io/gorm"
)

// Service is the subscription lifecycle state machine. Transitions go
// through the typed operations below; nothing writes status columns
// directly.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*CustomerSubscription, error)
	FindByID(ctx context.Context, subscriptionID int64) (*CustomerSubscription, error)
	FindByProviderSub(ctx context.Context, prov provider.Provider, providerSubID string) (*CustomerSubscription, error)
	ListByCustomer(ctx context.Context, customerID int64) ([]CustomerSubscription, error)

	// ActivateOnPayment moves PENDING/TRIAL/PAST_DUE to ACTIVE after a
	// confirmed charge.
	ActivateOnPayment(ctx context.Context, subscriptionID int64) error

	// MarkPastDue records a failed renewal or a native payment-failure
	// webhook. CANCELED rows are left untouched.
	MarkPastDue(ctx context.Context, subscriptionID int64) error

	// Cancel sets canceled_at once. Re-canceling is a no-op;
	// current_period_end is left as-is.
	Cancel(ctx context.Context, subscriptionID int64) error

	// AdvancePeriod moves the billing window forward by exactly one
	// interval. Compare-and-set: the update applies only if canceled_at is
	// still null and current_period_end still equals expectedPeriodEnd.
	AdvancePeriod(ctx context.Context, subscriptionID int64, expectedPeriodEnd time.Time) (bool, error)

	// ListDue returns manual-renewal subscriptions whose period has lapsed
	// (current_period_end <= now, inclusive), oldest due first.
	ListDue(ctx context.Context, providers []provider.Provider, now time.Time, limit int) ([]CustomerSubscription, error)

	// CountNativeDue counts provider-billed subscriptions past their period
	// end. The observe pass reports them; nothing charges them.
	CountNativeDue(ctx context.Context, now time.Time) (int64, error)

	// FlagForAttention parks a subscription for manual remediation. Flagged
	// rows still appear in due queries; the dispatcher skips them until the
	// flag is cleared.
	FlagForAttention(ctx context.Context, subscriptionID int64, reason string) error
	ClearAttention(ctx context.Context, subscriptionID int64) error

	// CheckPrerequisites validates provider linkage plus the customer's
	// document and phone before any renewal charge is attempted.
	CheckPrerequisites(ctx context.Context, sub *CustomerSubscription) error

	LinkageOf(sub *CustomerSubscription) (ProviderLinkage, error)
	SetLinkage(ctx context.Context, subscriptionID int64, linkage ProviderLinkage) error
}

type CreateRequest struct {
	MerchantID    int64
	CustomerID    int64
	OfferID       int64
	Provider      provider.Provider
	ProviderSubID *string
	IsNative      bool
	PriceCents    int64
	Currency      string
	IntervalUnit  string
	IntervalCount int
	TrialDays     int
	Linkage       ProviderLinkage
	StartAt       time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *CustomerSubscription) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*CustomerSubscription, error)
	FindByProviderSub(ctx context.Context, db *gorm.DB, prov, providerSubID string) (*CustomerSubscription, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, customerID int64) ([]CustomerSubscription, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id int64, status Status, updatedAt time.Time) (bool, error)
	SetCanceled(ctx context.Context, db *gorm.DB, id int64, canceledAt time.Time) (bool, error)
	AdvancePeriod(ctx context.Context, db *gorm.DB, id int64, expectedEnd, newStart, newEnd time.Time, updatedAt time.Time) (bool, error)
	ListDue(ctx context.Context, db *gorm.DB, providers []string, now time.Time, limit int) ([]CustomerSubscription, error)
	CountNativeDue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
	SetAttention(ctx context.Context, db *gorm.DB, id int64, needsAttention bool, reason *string, updatedAt time.Time) error
	UpdateLinkage(ctx context.Context, db *gorm.DB, id int64, linkage []byte, updatedAt time.Time) error
	FindCustomer(ctx context.Context, db *gorm.DB, customerID int64) (document, phone string, err error)
}

var (
	ErrInvalidRequest       = errors.New("invalid_subscription_request")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrAlreadyCanceled      = errors.New("subscription_already_canceled")
	ErrInvalidTransition    = errors.New("invalid_status_transition")
	ErrInvalidDocument      = errors.New("invalid_customer_document")
	ErrInvalidPhone         = errors.New("invalid_customer_phone")
	ErrNeedsAttention       = errors.New("subscription_needs_attention")
)
