package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// Service manages the product/offer catalog. Merchant identity comes from
// context on every operation.
type Service interface {
	CreateProduct(ctx context.Context, req ProductRequest) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)

	CreateOffer(ctx context.Context, req OfferRequest) (*Offer, error)
	UpdateOffer(ctx context.Context, offerID int64, req OfferRequest) (*Offer, error)
	GetOffer(ctx context.Context, offerID int64) (*Offer, error)
	ListOffers(ctx context.Context, productID *int64) ([]Offer, error)
	SetOfferActive(ctx context.Context, offerID int64, isActive bool) error

	// MergeProviderConfig deep-merges patch into the offer's ProviderConfig.
	// Nested maps merge key by key; scalars and arrays in the patch replace
	// the stored value; a null in the patch deletes the key.
	MergeProviderConfig(ctx context.Context, offerID int64, patch map[string]any) (*Offer, error)

	// FindOffer is the lookup used by checkout and renewal, which run with an
	// explicit merchant instead of request context.
	FindOffer(ctx context.Context, merchantID, offerID int64) (*Offer, error)
}

type ProductRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type OfferRequest struct {
	ProductID         int64          `json:"product_id"`
	Name              string         `json:"name"`
	PriceCents        int64          `json:"price_cents"`
	Currency          string         `json:"currency"`
	IsSubscription    bool           `json:"is_subscription"`
	IntervalUnit      string         `json:"interval_unit"`
	IntervalCount     int            `json:"interval_count"`
	TrialDays         int            `json:"trial_days"`
	MaxInstallments   int            `json:"max_installments"`
	PreferredProvider *string        `json:"preferred_provider,omitempty"`
	ProviderConfig    map[string]any `json:"provider_config,omitempty"`
}

type Repository interface {
	InsertProduct(ctx context.Context, db *gorm.DB, product *Product) error
	ListProducts(ctx context.Context, db *gorm.DB, merchantID int64) ([]Product, error)
	FindProduct(ctx context.Context, db *gorm.DB, merchantID, productID int64) (*Product, error)

	InsertOffer(ctx context.Context, db *gorm.DB, offer *Offer) error
	UpdateOffer(ctx context.Context, db *gorm.DB, offer *Offer) (bool, error)
	FindOffer(ctx context.Context, db *gorm.DB, merchantID, offerID int64) (*Offer, error)
	ListOffers(ctx context.Context, db *gorm.DB, merchantID int64, productID *int64) ([]Offer, error)
	UpdateOfferActive(ctx context.Context, db *gorm.DB, merchantID, offerID int64, isActive bool) (bool, error)
}

var (
	ErrInvalidMerchant = errors.New("invalid_merchant")
	ErrInvalidName     = errors.New("invalid_name")
	ErrInvalidPrice    = errors.New("invalid_price")
	ErrInvalidInterval = errors.New("invalid_interval")
	ErrInvalidProvider = errors.New("invalid_provider")
	ErrProductNotFound = errors.New("product_not_found")
	ErrOfferNotFound   = errors.New("offer_not_found")
)
