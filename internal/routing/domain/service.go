package domain

import (
	"context"
	"errors"

	"github.com/clinicware/payrail/internal/provider"
	"gorm.io/gorm"
)

// SelectionRequest carries everything known about a checkout when a provider
// has to be chosen. Only MerchantID is mandatory.
type SelectionRequest struct {
	MerchantID int64
	OfferID    *int64
	ProductID  *int64
	Country    string
	Method     provider.Method
}

// Decision tiers, from most to least specific. The tier is recorded on the
// routing metric so traffic shifts are visible without reading rule tables.
const (
	TierOfferPreference = "offer_preference"
	TierOfferRule       = "offer_rule"
	TierProductRule     = "product_rule"
	TierGlobalRule      = "global_rule"
	TierCountryDefault  = "country_default"
	TierFirstActive     = "first_active"
	TierHardcoded       = "hardcoded"
)

// Decision is the outcome of provider selection.
type Decision struct {
	Provider provider.Provider `json:"provider"`
	Tier     string            `json:"tier"`
	RuleID   *int64            `json:"rule_id,omitempty"`
}

// Service selects a provider for a checkout and manages routing rules.
// SelectProvider never returns an error: every failure along the chain falls
// through to the next step, and the final step always yields a provider.
type Service interface {
	SelectProvider(ctx context.Context, req SelectionRequest) Decision

	CreateRule(ctx context.Context, req RuleRequest) (*PaymentRoutingRule, error)
	UpdateRule(ctx context.Context, ruleID int64, req RuleRequest) (*PaymentRoutingRule, error)
	DeleteRule(ctx context.Context, ruleID int64) error
	ListRules(ctx context.Context) ([]PaymentRoutingRule, error)
}

type RuleRequest struct {
	Provider  provider.Provider `json:"provider"`
	OfferID   *int64            `json:"offer_id,omitempty"`
	ProductID *int64            `json:"product_id,omitempty"`
	Country   *string           `json:"country,omitempty"`
	Method    *string           `json:"method,omitempty"`
	Priority  int               `json:"priority"`
	IsActive  bool              `json:"is_active"`
}

// OfferPreference is the slice of an offer that routing cares about.
type OfferPreference struct {
	OfferID           int64
	IsActive          bool
	PreferredProvider *string
}

type Repository interface {
	ListActiveByMerchant(ctx context.Context, db *gorm.DB, merchantID int64) ([]PaymentRoutingRule, error)
	FindOfferPreference(ctx context.Context, db *gorm.DB, offerID int64) (*OfferPreference, error)

	Find(ctx context.Context, db *gorm.DB, merchantID, ruleID int64) (*PaymentRoutingRule, error)
	ListByMerchant(ctx context.Context, db *gorm.DB, merchantID int64) ([]PaymentRoutingRule, error)
	Insert(ctx context.Context, db *gorm.DB, rule *PaymentRoutingRule) error
	Update(ctx context.Context, db *gorm.DB, rule *PaymentRoutingRule) (bool, error)
	Delete(ctx context.Context, db *gorm.DB, merchantID, ruleID int64) (bool, error)
}

var (
	ErrInvalidMerchant = errors.New("invalid_merchant")
	ErrInvalidProvider = errors.New("invalid_provider")
	ErrInvalidMethod   = errors.New("invalid_method")
	ErrRuleNotFound    = errors.New("routing_rule_not_found")
)
