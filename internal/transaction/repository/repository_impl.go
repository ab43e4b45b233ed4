package repository

import (
	"context"
	"time"

	"github.com/clinicware/payrail/internal/transaction/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const txColumns = `id, merchant_id, customer_id, subscription_id, offer_id, provider,
        provider_order_id, provider_charge_id, amount_cents, currency, payment_method_type,
        status, clinic_amount_cents, platform_amount_cents, refunded_cents, fee_payer,
        idempotency_key, raw_payload, raw_webhook, paid_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tx *domain.PaymentTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_transactions (
			id, merchant_id, customer_id, subscription_id, offer_id, provider,
			provider_order_id, provider_charge_id, amount_cents, currency, payment_method_type,
			status, clinic_amount_cents, platform_amount_cents, refunded_cents, fee_payer,
			idempotency_key, raw_payload, raw_webhook, paid_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.MerchantID,
		tx.CustomerID,
		tx.SubscriptionID,
		tx.OfferID,
		tx.Provider,
		tx.ProviderOrderID,
		tx.ProviderChargeID,
		tx.AmountCents,
		tx.Currency,
		tx.PaymentMethodType,
		tx.Status,
		tx.ClinicAmountCents,
		tx.PlatformAmountCents,
		tx.RefundedCents,
		tx.FeePayer,
		tx.IdempotencyKey,
		tx.RawPayload,
		tx.RawWebhook,
		tx.PaidAt,
		tx.CreatedAt,
		tx.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.PaymentTransaction, error) {
	var item domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+txColumns+`
		 FROM payment_transactions
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

func (r *repo) FindByProviderOrder(ctx context.Context, db *gorm.DB, prov, providerOrderID string) (*domain.PaymentTransaction, error) {
	var item domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+txColumns+`
		 FROM payment_transactions
		 WHERE provider = ? AND provider_order_id = ?
		 LIMIT 1`,
		prov,
		providerOrderID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.PaymentTransaction, error) {
	var item domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+txColumns+`
		 FROM payment_transactions
		 WHERE idempotency_key = ?
		 LIMIT 1`,
		key,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id int64, status domain.PaymentStatus, rawWebhook []byte, paidAt *time.Time, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET status = ?,
		     raw_webhook = COALESCE(?, raw_webhook),
		     paid_at = COALESCE(?, paid_at),
		     updated_at = ?
		 WHERE id = ?`,
		status,
		rawWebhook,
		paidAt,
		updatedAt,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateRefund(ctx context.Context, db *gorm.DB, id int64, status domain.PaymentStatus, refundedCents int64, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_transactions
		 SET status = ?, refunded_cents = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		refundedCents,
		updatedAt,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) CountForCycle(ctx context.Context, db *gorm.DB, subscriptionID int64, periodEnd time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM payment_transactions
		 WHERE subscription_id = ?
		   AND created_at >= ?
		   AND status NOT IN (?, ?, ?)`,
		subscriptionID,
		periodEnd,
		domain.StatusFailed,
		domain.StatusCanceled,
		domain.StatusExpired,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) ListUnsettled(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]domain.PaymentTransaction, error) {
	var items []domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+txColumns+`
		 FROM payment_transactions
		 WHERE status IN (?, ?)
		   AND provider_order_id IS NOT NULL
		   AND created_at >= ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		domain.StatusPending,
		domain.StatusProcessing,
		since,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByMerchant(ctx context.Context, db *gorm.DB, merchantID int64, limit int) ([]domain.PaymentTransaction, error) {
	var items []domain.PaymentTransaction
	err := db.WithContext(ctx).Raw(
		`SELECT `+txColumns+`
		 FROM payment_transactions
		 WHERE merchant_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		merchantID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
