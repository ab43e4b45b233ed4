package domain

import "time"

// Customer is the unified, provider-agnostic identity a clinic charges.
// Resolution is by (merchant_id, email) or (merchant_id, document), so a
// returning buyer keeps one row no matter which provider handled a purchase.
type Customer struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	MerchantID int64     `json:"merchant_id" gorm:"column:merchant_id;not null;index:idx_customers_merchant_email,priority:1;index:idx_customers_merchant_document,priority:1"`
	Name       string    `json:"name" gorm:"type:text;not null"`
	Email      string    `json:"email" gorm:"type:text;not null;index:idx_customers_merchant_email,priority:2"`
	Document   string    `json:"document" gorm:"type:text;index:idx_customers_merchant_document,priority:2"`
	Phone      string    `json:"phone" gorm:"type:text"`
	Country    string    `json:"country" gorm:"type:text;not null;default:'BR'"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Customer) TableName() string { return "customers" }

// Payment method statuses.
const (
	PaymentMethodActive  = "ACTIVE"
	PaymentMethodExpired = "EXPIRED"
	PaymentMethodRevoked = "REVOKED"
)

// CustomerPaymentMethod is a vault entry: the provider-side token plus the
// display metadata needed to render a saved card. Raw card data never lands
// here.
type CustomerPaymentMethod struct {
	ID                      int64     `json:"id" gorm:"primaryKey"`
	CustomerID              int64     `json:"customer_id" gorm:"column:customer_id;not null;index"`
	Provider                string    `json:"provider" gorm:"type:text;not null"`
	ProviderCustomerID      string    `json:"provider_customer_id" gorm:"type:text;not null"`
	ProviderPaymentMethodID string    `json:"provider_payment_method_id" gorm:"type:text;not null"`
	Brand                   string    `json:"brand" gorm:"type:text"`
	Last4                   string    `json:"last4" gorm:"type:text"`
	ExpMonth                int       `json:"exp_month"`
	ExpYear                 int       `json:"exp_year"`
	IsDefault               bool      `json:"is_default" gorm:"not null;default:false"`
	Status                  string    `json:"status" gorm:"type:text;not null;default:'ACTIVE'"`
	CreatedAt               time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt               time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (CustomerPaymentMethod) TableName() string { return "customer_payment_methods" }
