package domain

import "time"

// PaymentRoutingRule steers checkout traffic to a provider. Scope narrows
// from offer-exact to product-exact to merchant-global; country and method
// are optional filters where NULL means "matches anything".
type PaymentRoutingRule struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	MerchantID int64     `json:"merchant_id" gorm:"column:merchant_id;not null;index:idx_payment_routing_rules_merchant"`
	Provider   string    `json:"provider" gorm:"type:text;not null"`
	OfferID    *int64    `json:"offer_id,omitempty" gorm:"column:offer_id"`
	ProductID  *int64    `json:"product_id,omitempty" gorm:"column:product_id"`
	Country    *string   `json:"country,omitempty" gorm:"type:text"`
	Method     *string   `json:"method,omitempty" gorm:"type:text"`
	Priority   int       `json:"priority" gorm:"not null;default:100"`
	IsActive   bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentRoutingRule) TableName() string { return "payment_routing_rules" }
