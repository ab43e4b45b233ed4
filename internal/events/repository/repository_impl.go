package repository

import (
	"context"

	"github.com/clinicware/payrail/internal/events/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO events (id, merchant_id, customer_id, event_type, actor, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.MerchantID,
		event.CustomerID,
		event.EventType,
		event.Actor,
		event.Metadata,
		event.CreatedAt,
	).Error
}

func (r *repo) InsertEndpoint(ctx context.Context, db *gorm.DB, endpoint *domain.WebhookEndpoint) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_endpoints (id, merchant_id, url, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		endpoint.ID,
		endpoint.MerchantID,
		endpoint.URL,
		endpoint.IsActive,
		endpoint.CreatedAt,
		endpoint.UpdatedAt,
	).Error
}

func (r *repo) ListActiveEndpoints(ctx context.Context, db *gorm.DB, merchantID int64) ([]domain.WebhookEndpoint, error) {
	var items []domain.WebhookEndpoint
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, url, is_active, created_at, updated_at
		 FROM webhook_endpoints
		 WHERE merchant_id = ? AND is_active = ?
		 ORDER BY created_at ASC`,
		merchantID,
		true,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListEndpoints(ctx context.Context, db *gorm.DB, merchantID int64) ([]domain.WebhookEndpoint, error) {
	var items []domain.WebhookEndpoint
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, url, is_active, created_at, updated_at
		 FROM webhook_endpoints
		 WHERE merchant_id = ?
		 ORDER BY created_at ASC`,
		merchantID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateEndpointActive(ctx context.Context, db *gorm.DB, merchantID, endpointID int64, isActive bool) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE webhook_endpoints
		 SET is_active = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE merchant_id = ? AND id = ?`,
		isActive,
		merchantID,
		endpointID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
