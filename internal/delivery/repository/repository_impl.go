package repository

import (
	"context"
	"time"

	"github.com/clinicware/payrail/internal/delivery/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const deliveryColumns = `id, merchant_id, event_id, event_type, url, payload, status, attempts,
        next_attempt_at, last_error, idempotency_key, delivered_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, delivery *domain.OutboundWebhookDelivery) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO outbound_webhook_deliveries (
			id, merchant_id, event_id, event_type, url, payload, status, attempts,
			next_attempt_at, last_error, idempotency_key, delivered_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		delivery.ID,
		delivery.MerchantID,
		delivery.EventID,
		delivery.EventType,
		delivery.URL,
		delivery.Payload,
		delivery.Status,
		delivery.Attempts,
		delivery.NextAttemptAt,
		delivery.LastError,
		delivery.IdempotencyKey,
		delivery.DeliveredAt,
		delivery.CreatedAt,
		delivery.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.OutboundWebhookDelivery, error) {
	var item domain.OutboundWebhookDelivery
	err := db.WithContext(ctx).Raw(
		`SELECT `+deliveryColumns+`
		 FROM outbound_webhook_deliveries
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkDelivered(ctx context.Context, db *gorm.DB, id int64, attempts int, deliveredAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE outbound_webhook_deliveries
		 SET status = ?, attempts = ?, delivered_at = ?, next_attempt_at = NULL, updated_at = ?
		 WHERE id = ?`,
		domain.DeliveryDelivered,
		attempts,
		deliveredAt,
		deliveredAt,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id int64, attempts int, lastError string, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE outbound_webhook_deliveries
		 SET status = ?, attempts = ?, last_error = ?, next_attempt_at = NULL, updated_at = ?
		 WHERE id = ?`,
		domain.DeliveryFailed,
		attempts,
		lastError,
		updatedAt,
		id,
	).Error
}

func (r *repo) ScheduleRetry(ctx context.Context, db *gorm.DB, id int64, attempts int, lastError string, idempotencyKey string, nextAttemptAt, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE outbound_webhook_deliveries
		 SET attempts = ?, last_error = ?, idempotency_key = ?, next_attempt_at = ?, updated_at = ?
		 WHERE id = ?`,
		attempts,
		lastError,
		idempotencyKey,
		nextAttemptAt,
		updatedAt,
		id,
	).Error
}

func (r *repo) ListStuck(ctx context.Context, db *gorm.DB, idleSince, now time.Time, limit int) ([]domain.OutboundWebhookDelivery, error) {
	var items []domain.OutboundWebhookDelivery
	err := db.WithContext(ctx).Raw(
		`SELECT `+deliveryColumns+`
		 FROM outbound_webhook_deliveries
		 WHERE status = ?
		   AND updated_at <= ?
		   AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		 ORDER BY updated_at ASC
		 LIMIT ?`,
		domain.DeliveryPending,
		idleSince,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
