package domain

import (
	"context"
	"errors"
	"time"

	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
	"gorm.io/gorm"
)

// Service is the merchant integration registry. Merchant-facing operations
// (Connect, Rotate, SetActive, List) read the merchant from context; the
// lookup operations used by routing, checkout and the scheduler take the
// merchant explicitly because they run outside a request.
type Service interface {
	Connect(ctx context.Context, req ConnectRequest) (*Summary, error)
	Rotate(ctx context.Context, prov provider.Provider, credentials map[string]any) (*Summary, error)
	SetActive(ctx context.Context, prov provider.Provider, isActive bool) (*Summary, error)
	List(ctx context.Context) ([]Summary, error)

	IsActive(ctx context.Context, merchantID int64, prov provider.Provider) (bool, error)
	ActiveProviders(ctx context.Context, merchantID int64) ([]provider.Provider, error)
	OldestActive(ctx context.Context, merchantID int64) (provider.Provider, bool, error)

	// NewAdapter decrypts stored credentials and builds the provider
	// adapter. Returns ErrNotFound when nothing is connected and
	// ErrInactive when the integration is disabled.
	NewAdapter(ctx context.Context, merchantID int64, prov provider.Provider) (paymentdomain.Adapter, error)

	MarkUsed(ctx context.Context, merchantID int64, prov provider.Provider) error
	RecordError(ctx context.Context, merchantID int64, prov provider.Provider, message string) error
}

type ConnectRequest struct {
	Provider    provider.Provider `json:"provider"`
	Credentials map[string]any    `json:"credentials"`
	Sandbox     bool              `json:"sandbox"`
}

type Summary struct {
	Provider    provider.Provider `json:"provider"`
	IsActive    bool              `json:"is_active"`
	Sandbox     bool              `json:"sandbox"`
	ConnectedAt time.Time         `json:"connected_at"`
	LastError   *string           `json:"last_error,omitempty"`
	LastErrorAt *time.Time        `json:"last_error_at,omitempty"`
}

// Repository is the persistence surface for merchant integrations.
type Repository interface {
	Find(ctx context.Context, db *gorm.DB, merchantID int64, prov string) (*MerchantIntegration, error)
	ListByMerchant(ctx context.Context, db *gorm.DB, merchantID int64) ([]MerchantIntegration, error)
	ListActiveByMerchant(ctx context.Context, db *gorm.DB, merchantID int64) ([]MerchantIntegration, error)
	Upsert(ctx context.Context, db *gorm.DB, integration *MerchantIntegration) error
	UpdateStatus(ctx context.Context, db *gorm.DB, merchantID int64, prov string, isActive bool, updatedAt time.Time) (bool, error)
	UpdateLastUsed(ctx context.Context, db *gorm.DB, merchantID int64, prov string, usedAt time.Time) error
	UpdateLastError(ctx context.Context, db *gorm.DB, merchantID int64, prov string, message string, at time.Time) error
}

var (
	ErrInvalidMerchant      = errors.New("invalid_merchant")
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrInvalidCredentials   = errors.New("invalid_credentials")
	ErrNotFound             = errors.New("integration_not_found")
	ErrInactive             = errors.New("integration_inactive")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
	ErrVerificationFailed   = errors.New("verification_failed")
)
