package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Delivery statuses. FAILED is terminal and entered only by the attempt cap.
const (
	DeliveryPending   = "PENDING"
	DeliveryDelivered = "DELIVERED"
	DeliveryFailed    = "FAILED"
)

// MaxAttempts is the hard cap. A delivery reaching it is marked FAILED by
// the safety-net sweep regardless of its retry schedule.
const MaxAttempts = 10

// StuckThreshold is how long a PENDING delivery may sit before the sweep
// re-triggers it.
const StuckThreshold = 10 * time.Minute

// OutboundWebhookDelivery is one attempt-tracked event delivery to a
// clinic's webhook endpoint. Each retry gets a fresh idempotency key so the
// receiver can tell a retry from a duplicate.
type OutboundWebhookDelivery struct {
	ID             int64          `json:"id" gorm:"primaryKey"`
	MerchantID     int64          `json:"merchant_id" gorm:"column:merchant_id;not null;index"`
	EventID        int64          `json:"event_id" gorm:"column:event_id;not null;index"`
	EventType      string         `json:"event_type" gorm:"type:text;not null"`
	URL            string         `json:"url" gorm:"type:text;not null"`
	Payload        datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	Status         string         `json:"status" gorm:"type:text;not null;default:'PENDING';index"`
	Attempts       int            `json:"attempts" gorm:"not null;default:0"`
	NextAttemptAt  *time.Time     `json:"next_attempt_at,omitempty" gorm:"index"`
	LastError      *string        `json:"last_error,omitempty" gorm:"type:text"`
	IdempotencyKey string         `json:"idempotency_key" gorm:"type:text;not null"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (OutboundWebhookDelivery) TableName() string { return "outbound_webhook_deliveries" }
