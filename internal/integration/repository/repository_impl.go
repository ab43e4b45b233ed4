package repository

import (
	"context"
	"time"

	"github.com/clinicware/payrail/internal/integration/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, merchantID int64, prov string) (*domain.MerchantIntegration, error) {
	var item domain.MerchantIntegration
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, provider, credentials, sandbox, is_active,
		        last_error, last_error_at, connected_at, last_used_at, created_at, updated_at
		 FROM merchant_integrations
		 WHERE merchant_id = ? AND provider = ?
		 LIMIT 1`,
		merchantID,
		prov,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByMerchant(ctx context.Context, db *gorm.DB, merchantID int64) ([]domain.MerchantIntegration, error) {
	var items []domain.MerchantIntegration
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, provider, credentials, sandbox, is_active,
		        last_error, last_error_at, connected_at, last_used_at, created_at, updated_at
		 FROM merchant_integrations
		 WHERE merchant_id = ?
		 ORDER BY connected_at ASC`,
		merchantID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListActiveByMerchant(ctx context.Context, db *gorm.DB, merchantID int64) ([]domain.MerchantIntegration, error) {
	var items []domain.MerchantIntegration
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, provider, credentials, sandbox, is_active,
		        last_error, last_error_at, connected_at, last_used_at, created_at, updated_at
		 FROM merchant_integrations
		 WHERE merchant_id = ? AND is_active = ?
		 ORDER BY connected_at ASC`,
		merchantID,
		true,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, integration *domain.MerchantIntegration) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO merchant_integrations (
			id, merchant_id, provider, credentials, sandbox, is_active,
			last_error, last_error_at, connected_at, last_used_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (merchant_id, provider)
		DO UPDATE SET credentials = EXCLUDED.credentials,
			sandbox = EXCLUDED.sandbox,
			is_active = EXCLUDED.is_active,
			last_error = EXCLUDED.last_error,
			last_error_at = EXCLUDED.last_error_at,
			updated_at = EXCLUDED.updated_at`,
		integration.ID,
		integration.MerchantID,
		integration.Provider,
		integration.Credentials,
		integration.Sandbox,
		integration.IsActive,
		integration.LastError,
		integration.LastErrorAt,
		integration.ConnectedAt,
		integration.LastUsedAt,
		integration.CreatedAt,
		integration.UpdatedAt,
	).Error
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, merchantID int64, prov string, isActive bool, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE merchant_integrations
		 SET is_active = ?, updated_at = ?
		 WHERE merchant_id = ? AND provider = ?`,
		isActive,
		updatedAt,
		merchantID,
		prov,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateLastUsed(ctx context.Context, db *gorm.DB, merchantID int64, prov string, usedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE merchant_integrations
		 SET last_used_at = ?, updated_at = ?
		 WHERE merchant_id = ? AND provider = ?`,
		usedAt,
		usedAt,
		merchantID,
		prov,
	).Error
}

func (r *repo) UpdateLastError(ctx context.Context, db *gorm.DB, merchantID int64, prov string, message string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE merchant_integrations
		 SET last_error = ?, last_error_at = ?, updated_at = ?
		 WHERE merchant_id = ? AND provider = ?`,
		message,
		at,
		at,
		merchantID,
		prov,
	).Error
}
