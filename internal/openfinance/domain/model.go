package domain

import "time"

// Consent statuses. REVOKED and EXPIRED stop the recurring schedule.
const (
	ConsentPending    = "PENDING"
	ConsentAuthorized = "AUTHORIZED"
	ConsentRevoked    = "REVOKED"
	ConsentExpired    = "EXPIRED"
)

// Periodicity of recurring Open Finance debits.
type Periodicity string

const (
	PeriodicityDaily   Periodicity = "DAILY"
	PeriodicityWeekly  Periodicity = "WEEKLY"
	PeriodicityMonthly Periodicity = "MONTHLY"
)

func (p Periodicity) Valid() bool {
	switch p {
	case PeriodicityDaily, PeriodicityWeekly, PeriodicityMonthly:
		return true
	}
	return false
}

// Next advances t by one period.
func (p Periodicity) Next(t time.Time) time.Time {
	switch p {
	case PeriodicityDaily:
		return t.AddDate(0, 0, 1)
	case PeriodicityWeekly:
		return t.AddDate(0, 0, 7)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// OpenFinanceConsent is one device-bound recurring debit authorization.
// link_id is unique: one active consent per link. next_execution_at advances
// by one period after every debit attempt, success or failure, so a broken
// consent cannot produce a retry storm.
type OpenFinanceConsent struct {
	ID              int64       `json:"id" gorm:"primaryKey"`
	MerchantID      int64       `json:"merchant_id" gorm:"column:merchant_id;not null;index"`
	CustomerID      int64       `json:"customer_id" gorm:"column:customer_id;not null;index"`
	SubscriptionID  *int64      `json:"subscription_id,omitempty" gorm:"column:subscription_id"`
	LinkID          string      `json:"link_id" gorm:"type:text;not null;uniqueIndex:ux_open_finance_consents_link_id"`
	ConsentID       string      `json:"consent_id" gorm:"type:text;not null"`
	ContractID      string      `json:"contract_id" gorm:"type:text"`
	Status          string      `json:"status" gorm:"type:text;not null;default:'PENDING'"`
	AmountCents     int64       `json:"amount_cents" gorm:"not null"`
	Currency        string      `json:"currency" gorm:"type:text;not null;default:'BRL'"`
	Periodicity     Periodicity `json:"periodicity" gorm:"type:text;not null"`
	NextExecutionAt time.Time   `json:"next_execution_at" gorm:"not null;index"`
	CreatedAt       time.Time   `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time   `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (OpenFinanceConsent) TableName() string { return "open_finance_consents" }
