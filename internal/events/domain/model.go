package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Event types emitted by the billing core.
const (
	EventIntegrationAdded     = "integration_added"
	EventIntegrationFailed    = "integration_failed"
	EventSubscriptionCreated  = "subscription_created"
	EventSubscriptionBilled   = "subscription_billed"
	EventSubscriptionPastDue  = "subscription_past_due"
	EventSubscriptionCanceled = "subscription_canceled"
	EventRenewalFlagged       = "renewal_flagged"
	EventPaymentRefunded      = "payment_refunded"
	EventConsentRevoked       = "consent_revoked"
)

// Event is the persisted record of something the billing core did. Delivery
// to clinic endpoints is tracked separately per endpoint.
type Event struct {
	ID         int64          `json:"id" gorm:"primaryKey"`
	MerchantID int64          `json:"merchant_id" gorm:"column:merchant_id;not null;index"`
	CustomerID *int64         `json:"customer_id,omitempty" gorm:"column:customer_id"`
	EventType  string         `json:"event_type" gorm:"type:text;not null;index"`
	Actor      string         `json:"actor" gorm:"type:text;not null;default:'system'"`
	Metadata   datatypes.JSON `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt  time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Event) TableName() string { return "events" }

// WebhookEndpoint is a clinic-registered URL receiving outbound event
// webhooks.
type WebhookEndpoint struct {
	ID         int64     `json:"id" gorm:"primaryKey"`
	MerchantID int64     `json:"merchant_id" gorm:"column:merchant_id;not null;index"`
	URL        string    `json:"url" gorm:"type:text;not null"`
	IsActive   bool      `json:"is_active" gorm:"not null;default:true"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (WebhookEndpoint) TableName() string { return "webhook_endpoints" }
