package domain

import (
	"time"

	"gorm.io/datatypes"
)

// MerchantIntegration is one connected provider per merchant. Credentials
// are an AES-GCM encrypted JSON blob; plaintext exists only in memory at the
// moment an adapter is built.
type MerchantIntegration struct {
	ID          int64          `json:"id" gorm:"primaryKey"`
	MerchantID  int64          `json:"merchant_id" gorm:"column:merchant_id;not null;index:ux_merchant_integrations_merchant_provider,unique,priority:1"`
	Provider    string         `json:"provider" gorm:"type:text;not null;index:ux_merchant_integrations_merchant_provider,unique,priority:2"`
	Credentials datatypes.JSON `json:"-" gorm:"type:jsonb;not null"`
	Sandbox     bool           `json:"sandbox" gorm:"not null;default:false"`
	IsActive    bool           `json:"is_active" gorm:"not null;default:false"`
	LastError   *string        `json:"last_error,omitempty" gorm:"type:text"`
	LastErrorAt *time.Time     `json:"last_error_at,omitempty"`
	ConnectedAt time.Time      `json:"connected_at" gorm:"not null"`
	LastUsedAt  *time.Time     `json:"last_used_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (MerchantIntegration) TableName() string { return "merchant_integrations" }
