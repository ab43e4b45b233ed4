package repository

import (
	"context"

	"github.com/clinicware/payrail/internal/routing/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const ruleColumns = `id, merchant_id, provider, offer_id, product_id, country, method,
        priority, is_active, created_at, updated_at`

func (r *repo) ListActiveByMerchant(ctx context.Context, db *gorm.DB, merchantID int64) ([]domain.PaymentRoutingRule, error) {
	var items []domain.PaymentRoutingRule
	err := db.WithContext(ctx).Raw(
		`SELECT `+ruleColumns+`
		 FROM payment_routing_rules
		 WHERE merchant_id = ? AND is_active = ?
		 ORDER BY priority ASC, id ASC`,
		merchantID,
		true,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindOfferPreference(ctx context.Context, db *gorm.DB, offerID int64) (*domain.OfferPreference, error) {
	var pref domain.OfferPreference
	err := db.WithContext(ctx).Raw(
		`SELECT id AS offer_id, is_active, preferred_provider
		 FROM offers
		 WHERE id = ?
		 LIMIT 1`,
		offerID,
	).Scan(&pref).Error
	if err != nil {
		return nil, err
	}
	if pref.OfferID == 0 {
		return nil, nil
	}
	return &pref, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, merchantID, ruleID int64) (*domain.PaymentRoutingRule, error) {
	var item domain.PaymentRoutingRule
	err := db.WithContext(ctx).Raw(
		`SELECT `+ruleColumns+`
		 FROM payment_routing_rules
		 WHERE merchant_id = ? AND id = ?
		 LIMIT 1`,
		merchantID,
		ruleID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByMerchant(ctx context.Context, db *gorm.DB, merchantID int64) ([]domain.PaymentRoutingRule, error) {
	var items []domain.PaymentRoutingRule
	err := db.WithContext(ctx).Raw(
		`SELECT `+ruleColumns+`
		 FROM payment_routing_rules
		 WHERE merchant_id = ?
		 ORDER BY priority ASC, id ASC`,
		merchantID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rule *domain.PaymentRoutingRule) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_routing_rules (
			id, merchant_id, provider, offer_id, product_id, country, method,
			priority, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID,
		rule.MerchantID,
		rule.Provider,
		rule.OfferID,
		rule.ProductID,
		rule.Country,
		rule.Method,
		rule.Priority,
		rule.IsActive,
		rule.CreatedAt,
		rule.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, rule *domain.PaymentRoutingRule) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_routing_rules
		 SET provider = ?, offer_id = ?, product_id = ?, country = ?, method = ?,
		     priority = ?, is_active = ?, updated_at = ?
		 WHERE merchant_id = ? AND id = ?`,
		rule.Provider,
		rule.OfferID,
		rule.ProductID,
		rule.Country,
		rule.Method,
		rule.Priority,
		rule.IsActive,
		rule.UpdatedAt,
		rule.MerchantID,
		rule.ID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, merchantID, ruleID int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM payment_routing_rules WHERE merchant_id = ? AND id = ?`,
		merchantID,
		ruleID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
