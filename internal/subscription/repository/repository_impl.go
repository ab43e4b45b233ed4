package repository

import (
	"context"
	"time"

	"github.com/clinicware/payrail/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const subColumns = `id, merchant_id, customer_id, offer_id, provider, provider_subscription_id,
        is_native, status, price_cents, currency, interval_unit, interval_count,
        current_period_start, current_period_end, canceled_at, linkage,
        needs_attention, attention_reason, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *domain.CustomerSubscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customer_subscriptions (
			id, merchant_id, customer_id, offer_id, provider, provider_subscription_id,
			is_native, status, price_cents, currency, interval_unit, interval_count,
			current_period_start, current_period_end, canceled_at, linkage,
			needs_attention, attention_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.MerchantID,
		sub.CustomerID,
		sub.OfferID,
		sub.Provider,
		sub.ProviderSubID,
		sub.IsNative,
		sub.Status,
		sub.PriceCents,
		sub.Currency,
		sub.IntervalUnit,
		sub.IntervalCount,
		sub.CurrentPeriodStart,
		sub.CurrentPeriodEnd,
		sub.CanceledAt,
		sub.Linkage,
		sub.NeedsAttention,
		sub.AttentionReason,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.CustomerSubscription, error) {
	var item domain.CustomerSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subColumns+`
		 FROM customer_subscriptions
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

func (r *repo) FindByProviderSub(ctx context.Context, db *gorm.DB, prov, providerSubID string) (*domain.CustomerSubscription, error) {
	var item domain.CustomerSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subColumns+`
		 FROM customer_subscriptions
		 WHERE provider = ? AND provider_subscription_id = ?
		 LIMIT 1`,
		prov,
		providerSubID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByCustomer(ctx context.Context, db *gorm.DB, customerID int64) ([]domain.CustomerSubscription, error) {
	var items []domain.CustomerSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subColumns+`
		 FROM customer_subscriptions
		 WHERE customer_id = ?
		 ORDER BY created_at DESC`,
		customerID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id int64, status domain.Status, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customer_subscriptions
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND canceled_at IS NULL`,
		status,
		updatedAt,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SetCanceled(ctx context.Context, db *gorm.DB, id int64, canceledAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customer_subscriptions
		 SET status = ?, canceled_at = ?, updated_at = ?
		 WHERE id = ? AND canceled_at IS NULL`,
		domain.StatusCanceled,
		canceledAt,
		canceledAt,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AdvancePeriod is the compare-and-set period move. The WHERE clause pins
// both canceled_at and the period end read at dispatch time, so a
// cancellation or a concurrent renewal racing this update makes it a no-op.
func (r *repo) AdvancePeriod(ctx context.Context, db *gorm.DB, id int64, expectedEnd, newStart, newEnd time.Time, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customer_subscriptions
		 SET current_period_start = ?, current_period_end = ?, status = ?, updated_at = ?
		 WHERE id = ? AND canceled_at IS NULL AND current_period_end = ?`,
		newStart,
		newEnd,
		domain.StatusActive,
		updatedAt,
		id,
		expectedEnd,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, providers []string, now time.Time, limit int) ([]domain.CustomerSubscription, error) {
	var items []domain.CustomerSubscription
	err := db.WithContext(ctx).Raw(
		`SELECT `+subColumns+`
		 FROM customer_subscriptions
		 WHERE provider IN ?
		   AND is_native = ?
		   AND canceled_at IS NULL
		   AND status IN (?, ?)
		   AND current_period_end <= ?
		 ORDER BY current_period_end ASC
		 LIMIT ?`,
		providers,
		false,
		domain.StatusActive,
		domain.StatusPastDue,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountNativeDue(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM customer_subscriptions
		 WHERE is_native = ?
		   AND canceled_at IS NULL
		   AND status IN (?, ?)
		   AND current_period_end <= ?`,
		true,
		domain.StatusActive,
		domain.StatusPastDue,
		now,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) SetAttention(ctx context.Context, db *gorm.DB, id int64, needsAttention bool, reason *string, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customer_subscriptions
		 SET needs_attention = ?, attention_reason = ?, updated_at = ?
		 WHERE id = ?`,
		needsAttention,
		reason,
		updatedAt,
		id,
	).Error
}

func (r *repo) UpdateLinkage(ctx context.Context, db *gorm.DB, id int64, linkage []byte, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customer_subscriptions
		 SET linkage = ?, updated_at = ?
		 WHERE id = ?`,
		linkage,
		updatedAt,
		id,
	).Error
}

func (r *repo) FindCustomer(ctx context.Context, db *gorm.DB, customerID int64) (string, string, error) {
	var row struct {
		Document string
		Phone    string
	}
	err := db.WithContext(ctx).Raw(
		`SELECT document, phone FROM customers WHERE id = ? LIMIT 1`,
		customerID,
	).Scan(&row).Error
	if err != nil {
		return "", "", err
	}
	return row.Document, row.Phone, nil
}
