package domain

import (
	"time"

	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"gorm.io/datatypes"
)

// PaymentStatus is the local transaction state. It is a strict enum; raw
// provider strings stay inside RawPayload/RawWebhook.
type PaymentStatus string

const (
	StatusPending           PaymentStatus = "PENDING"
	StatusProcessing        PaymentStatus = "PROCESSING"
	StatusSucceeded         PaymentStatus = "SUCCEEDED"
	StatusFailed            PaymentStatus = "FAILED"
	StatusCanceled          PaymentStatus = "CANCELED"
	StatusExpired           PaymentStatus = "EXPIRED"
	StatusRefunding         PaymentStatus = "REFUNDING"
	StatusRefunded          PaymentStatus = "REFUNDED"
	StatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	StatusChargeback        PaymentStatus = "CHARGEBACK"
	StatusDisputed          PaymentStatus = "DISPUTED"
)

// Terminal reports whether a status can never be overwritten by a
// reconciliation pass or a late webhook carrying a non-terminal state.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

// FromOrderStatus maps the adapter-level order state onto the local enum.
func FromOrderStatus(status paymentdomain.OrderStatus) PaymentStatus {
	switch status {
	case paymentdomain.OrderPaid:
		return StatusSucceeded
	case paymentdomain.OrderFailed:
		return StatusFailed
	case paymentdomain.OrderCanceled:
		return StatusCanceled
	case paymentdomain.OrderExpired:
		return StatusExpired
	case paymentdomain.OrderRefunded:
		return StatusRefunded
	case paymentdomain.OrderProcessing:
		return StatusProcessing
	default:
		return StatusPending
	}
}

// Fee payer options for the clinic/platform split.
const (
	FeePayerClinic   = "clinic"
	FeePayerPlatform = "platform"
	FeePayerSplit    = "split"
)

// PaymentTransaction is one attempted charge. provider_order_id is the
// idempotency anchor: webhooks and reconciliation both upsert through it.
type PaymentTransaction struct {
	ID                  int64          `json:"id" gorm:"primaryKey"`
	MerchantID          int64          `json:"merchant_id" gorm:"column:merchant_id;not null;index"`
	CustomerID          int64          `json:"customer_id" gorm:"column:customer_id;not null;index"`
	SubscriptionID      *int64         `json:"subscription_id,omitempty" gorm:"column:subscription_id;index"`
	OfferID             *int64         `json:"offer_id,omitempty" gorm:"column:offer_id"`
	Provider            string         `json:"provider" gorm:"type:text;not null;index:ux_payment_transactions_provider_order,unique,priority:1"`
	ProviderOrderID     *string        `json:"provider_order_id,omitempty" gorm:"type:text;index:ux_payment_transactions_provider_order,unique,priority:2"`
	ProviderChargeID    *string        `json:"provider_charge_id,omitempty" gorm:"type:text"`
	AmountCents         int64          `json:"amount_cents" gorm:"not null"`
	Currency            string         `json:"currency" gorm:"type:text;not null;default:'BRL'"`
	PaymentMethodType   string         `json:"payment_method_type" gorm:"type:text"`
	Status              PaymentStatus  `json:"status" gorm:"type:text;not null;index"`
	ClinicAmountCents   int64          `json:"clinic_amount_cents" gorm:"not null;default:0"`
	PlatformAmountCents int64          `json:"platform_amount_cents" gorm:"not null;default:0"`
	RefundedCents       int64          `json:"refunded_cents" gorm:"not null;default:0"`
	FeePayer            string         `json:"fee_payer" gorm:"type:text;not null;default:'clinic'"`
	IdempotencyKey      *string        `json:"idempotency_key,omitempty" gorm:"type:text;uniqueIndex:ux_payment_transactions_idempotency_key"`
	RawPayload          datatypes.JSON `json:"-" gorm:"type:jsonb"`
	RawWebhook          datatypes.JSON `json:"-" gorm:"type:jsonb"`
	PaidAt              *time.Time     `json:"paid_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	UpdatedAt           time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }
