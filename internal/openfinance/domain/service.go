package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Service manages recurring Open Finance consents. Debit execution itself
// lives in the renewal scheduler; this service owns the consent records and
// their schedule.
type Service interface {
	// CreateConsent registers the authorization with the aggregator and
	// persists the pending consent. The returned AuthURL is where the payer
	// completes the device-bound approval.
	CreateConsent(ctx context.Context, req CreateConsentRequest) (*ConsentWithAuthURL, error)

	// Authorize marks the consent active once the aggregator confirms the
	// payer approved it.
	Authorize(ctx context.Context, linkID string) error

	// Revoke terminally stops the schedule. Safe to repeat.
	Revoke(ctx context.Context, linkID string) error

	// RevokeByConsentID handles aggregator webhooks, which carry the
	// aggregator-side consent ID rather than our link ID. Unknown IDs are a
	// no-op.
	RevokeByConsentID(ctx context.Context, consentID string) error

	FindByLinkID(ctx context.Context, linkID string) (*OpenFinanceConsent, error)

	// ListDue returns authorized consents with next_execution_at <= now,
	// oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]OpenFinanceConsent, error)

	// AdvanceSchedule moves next_execution_at forward by one period. Called
	// after every debit attempt regardless of outcome.
	AdvanceSchedule(ctx context.Context, consentID int64) error
}

type CreateConsentRequest struct {
	MerchantID     int64       `json:"merchant_id"`
	CustomerID     int64       `json:"customer_id"`
	SubscriptionID *int64      `json:"subscription_id,omitempty"`
	ProviderUserID string      `json:"provider_user_id"`
	AmountCents    int64       `json:"amount_cents"`
	Currency       string      `json:"currency"`
	Periodicity    Periodicity `json:"periodicity"`
	RedirectURL    string      `json:"redirect_url"`
	FirstDebitAt   time.Time   `json:"first_debit_at"`
}

type ConsentWithAuthURL struct {
	Consent *OpenFinanceConsent `json:"consent"`
	AuthURL string              `json:"auth_url"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, consent *OpenFinanceConsent) error
	FindByLinkID(ctx context.Context, db *gorm.DB, linkID string) (*OpenFinanceConsent, error)
	FindByConsentID(ctx context.Context, db *gorm.DB, consentID string) (*OpenFinanceConsent, error)
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*OpenFinanceConsent, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id int64, status string, updatedAt time.Time) (bool, error)
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]OpenFinanceConsent, error)
	AdvanceSchedule(ctx context.Context, db *gorm.DB, id int64, nextExecutionAt, updatedAt time.Time) error
}

var (
	ErrInvalidRequest  = errors.New("invalid_consent_request")
	ErrConsentNotFound = errors.New("consent_not_found")
	ErrConsentInactive = errors.New("consent_inactive")
	ErrDuplicateLink   = errors.New("duplicate_consent_link")
)
