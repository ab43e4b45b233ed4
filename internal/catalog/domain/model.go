package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Product groups offers. A clinic sells one product through many offers
// (different prices, intervals, installment limits).
type Product struct {
	ID          int64     `json:"id" gorm:"primaryKey"`
	MerchantID  int64     `json:"merchant_id" gorm:"column:merchant_id;not null;index:ux_products_merchant_code,unique,priority:1"`
	Code        string    `json:"code" gorm:"type:text;not null;index:ux_products_merchant_code,unique,priority:2"`
	Name        string    `json:"name" gorm:"type:text;not null"`
	Description string    `json:"description" gorm:"type:text"`
	IsActive    bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Product) TableName() string { return "products" }

// Offer is the sellable unit a checkout points at. ProviderConfig carries
// per-provider external IDs (price/plan/product) keyed by provider, then
// currency or country, and is merged patch-wise so one provider's IDs can be
// updated without rewriting the rest.
type Offer struct {
	ID                int64          `json:"id" gorm:"primaryKey"`
	MerchantID        int64          `json:"merchant_id" gorm:"column:merchant_id;not null;index:ux_offers_merchant_code,unique,priority:1"`
	ProductID         int64          `json:"product_id" gorm:"column:product_id;not null;index"`
	Code              string         `json:"code" gorm:"type:text;not null;index:ux_offers_merchant_code,unique,priority:2"`
	Name              string         `json:"name" gorm:"type:text;not null"`
	PriceCents        int64          `json:"price_cents" gorm:"not null"`
	Currency          string         `json:"currency" gorm:"type:text;not null;default:'BRL'"`
	IsSubscription    bool           `json:"is_subscription" gorm:"not null;default:false"`
	IntervalUnit      string         `json:"interval_unit,omitempty" gorm:"type:text"`
	IntervalCount     int            `json:"interval_count,omitempty"`
	TrialDays         int            `json:"trial_days,omitempty"`
	MaxInstallments   int            `json:"max_installments" gorm:"not null;default:1"`
	PreferredProvider *string        `json:"preferred_provider,omitempty" gorm:"type:text"`
	ProviderConfig    datatypes.JSON `json:"provider_config,omitempty" gorm:"type:jsonb"`
	IsActive          bool           `json:"is_active" gorm:"not null;default:true"`
	CreatedAt         time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Offer) TableName() string { return "offers" }

// Billing interval units accepted on subscription offers.
const (
	IntervalDay   = "DAY"
	IntervalWeek  = "WEEK"
	IntervalMonth = "MONTH"
	IntervalYear  = "YEAR"
)

// ValidInterval reports whether unit is one of the accepted interval units.
func ValidInterval(unit string) bool {
	switch unit {
	case IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		return true
	}
	return false
}

// AddInterval advances t by count units. Months and years go through
// AddDate, which normalizes overflow instead of clamping: Jan 31 plus one
// month is Mar 2 or Mar 3, not the end of February.
func AddInterval(t time.Time, unit string, count int) time.Time {
	if count <= 0 {
		count = 1
	}
	switch unit {
	case IntervalDay:
		return t.AddDate(0, 0, count)
	case IntervalWeek:
		return t.AddDate(0, 0, 7*count)
	case IntervalYear:
		return t.AddDate(count, 0, 0)
	default:
		return t.AddDate(0, count, 0)
	}
}
