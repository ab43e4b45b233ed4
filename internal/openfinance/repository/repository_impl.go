package repository

import (
	"context"
	"time"

	"github.com/clinicware/payrail/internal/openfinance/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const consentColumns = `id, merchant_id, customer_id, subscription_id, link_id, consent_id,
        contract_id, status, amount_cents, currency, periodicity, next_execution_at,
        created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, consent *domain.OpenFinanceConsent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO open_finance_consents (
			id, merchant_id, customer_id, subscription_id, link_id, consent_id,
			contract_id, status, amount_cents, currency, periodicity, next_execution_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		consent.ID,
		consent.MerchantID,
		consent.CustomerID,
		consent.SubscriptionID,
		consent.LinkID,
		consent.ConsentID,
		consent.ContractID,
		consent.Status,
		consent.AmountCents,
		consent.Currency,
		consent.Periodicity,
		consent.NextExecutionAt,
		consent.CreatedAt,
		consent.UpdatedAt,
	).Error
}

func (r *repo) FindByLinkID(ctx context.Context, db *gorm.DB, linkID string) (*domain.OpenFinanceConsent, error) {
	var item domain.OpenFinanceConsent
	err := db.WithContext(ctx).Raw(
		`SELECT `+consentColumns+`
		 FROM open_finance_consents
		 WHERE link_id = ?
		 LIMIT 1`,
		linkID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByConsentID(ctx context.Context, db *gorm.DB, consentID string) (*domain.OpenFinanceConsent, error) {
	var item domain.OpenFinanceConsent
	err := db.WithContext(ctx).Raw(
		`SELECT `+consentColumns+`
		 FROM open_finance_consents
		 WHERE consent_id = ?
		 LIMIT 1`,
		consentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id int64) (*domain.OpenFinanceConsent, error) {
	var item domain.OpenFinanceConsent
	err := db.WithContext(ctx).Raw(
		`SELECT `+consentColumns+`
		 FROM open_finance_consents
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

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id int64, status string, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE open_finance_consents
		 SET status = ?, updated_at = ?
		 WHERE id = ?`,
		status,
		updatedAt,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.OpenFinanceConsent, error) {
	var items []domain.OpenFinanceConsent
	err := db.WithContext(ctx).Raw(
		`SELECT `+consentColumns+`
		 FROM open_finance_consents
		 WHERE status = ? AND next_execution_at <= ?
		 ORDER BY next_execution_at ASC
		 LIMIT ?`,
		domain.ConsentAuthorized,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) AdvanceSchedule(ctx context.Context, db *gorm.DB, id int64, nextExecutionAt, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE open_finance_consents
		 SET next_execution_at = ?, updated_at = ?
		 WHERE id = ?`,
		nextExecutionAt,
		updatedAt,
		id,
	).Error
}
