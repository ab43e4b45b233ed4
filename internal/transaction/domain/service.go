package domain

import (
	"context"
	"errors"
	"time"

	"github.com/clinicware/payrail/internal/provider"
	"gorm.io/gorm"
)

// Service is the transaction ledger. Writes are funneled through two paths:
// Create at charge initiation, ApplyProviderStatus for everything learned
// afterwards (webhooks, reconciliation, refund results).
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*PaymentTransaction, error)

	// ApplyProviderStatus upserts the transaction keyed by
	// (provider, providerOrderID). Terminal local statuses are never
	// downgraded; re-applying the same status is a no-op. Returns the row
	// and whether anything changed.
	ApplyProviderStatus(ctx context.Context, update StatusUpdate) (*PaymentTransaction, bool, error)

	FindByID(ctx context.Context, transactionID int64) (*PaymentTransaction, error)
	FindByProviderOrder(ctx context.Context, prov provider.Provider, providerOrderID string) (*PaymentTransaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*PaymentTransaction, error)

	// HasTransactionForCycle reports whether a renewal charge already exists
	// for the subscription's current billing cycle.
	HasTransactionForCycle(ctx context.Context, subscriptionID int64, periodEnd time.Time) (bool, error)

	// ListUnsettled returns PENDING/PROCESSING rows created inside the
	// window, oldest first, for the reconciliation sweep.
	ListUnsettled(ctx context.Context, window time.Duration, limit int) ([]PaymentTransaction, error)

	RecordRefund(ctx context.Context, transactionID, refundedCents int64) (*PaymentTransaction, error)

	ListByMerchant(ctx context.Context, merchantID int64, limit int) ([]PaymentTransaction, error)
}

type CreateRequest struct {
	MerchantID        int64
	CustomerID        int64
	SubscriptionID    *int64
	OfferID           *int64
	Provider          provider.Provider
	ProviderOrderID   *string
	ProviderChargeID  *string
	AmountCents       int64
	Currency          string
	PaymentMethodType string
	Status            PaymentStatus
	FeePayer          string
	PlatformFeeCents  int64
	IdempotencyKey    *string
	RawPayload        []byte
}

type StatusUpdate struct {
	Provider        provider.Provider
	ProviderOrderID string
	Status          PaymentStatus
	RawWebhook      []byte
	PaidAt          *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tx *PaymentTransaction) error
	FindByID(ctx context.Context, db *gorm.DB, id int64) (*PaymentTransaction, error)
	FindByProviderOrder(ctx context.Context, db *gorm.DB, prov, providerOrderID string) (*PaymentTransaction, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*PaymentTransaction, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id int64, status PaymentStatus, rawWebhook []byte, paidAt *time.Time, updatedAt time.Time) (bool, error)
	UpdateRefund(ctx context.Context, db *gorm.DB, id int64, status PaymentStatus, refundedCents int64, updatedAt time.Time) (bool, error)
	CountForCycle(ctx context.Context, db *gorm.DB, subscriptionID int64, periodEnd time.Time) (int64, error)
	ListUnsettled(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]PaymentTransaction, error)
	ListByMerchant(ctx context.Context, db *gorm.DB, merchantID int64, limit int) ([]PaymentTransaction, error)
}

var (
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidProvider    = errors.New("invalid_provider")
	ErrTransactionMissing = errors.New("transaction_not_found")
	ErrDuplicateCharge    = errors.New("duplicate_charge")
)
