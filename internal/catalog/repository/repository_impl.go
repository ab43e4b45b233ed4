package repository

import (
	"context"

	"github.com/clinicware/payrail/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const offerColumns = `id, merchant_id, product_id, code, name, price_cents, currency,
        is_subscription, interval_unit, interval_count, trial_days, max_installments,
        preferred_provider, provider_config, is_active, created_at, updated_at`

func (r *repo) InsertProduct(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO products (id, merchant_id, code, name, description, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		product.ID,
		product.MerchantID,
		product.Code,
		product.Name,
		product.Description,
		product.IsActive,
		product.CreatedAt,
		product.UpdatedAt,
	).Error
}

func (r *repo) ListProducts(ctx context.Context, db *gorm.DB, merchantID int64) ([]domain.Product, error) {
	var items []domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, code, name, description, is_active, created_at, updated_at
		 FROM products
		 WHERE merchant_id = ?
		 ORDER BY created_at ASC`,
		merchantID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindProduct(ctx context.Context, db *gorm.DB, merchantID, productID int64) (*domain.Product, error) {
	var item domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, merchant_id, code, name, description, is_active, created_at, updated_at
		 FROM products
		 WHERE merchant_id = ? AND id = ?
		 LIMIT 1`,
		merchantID,
		productID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertOffer(ctx context.Context, db *gorm.DB, offer *domain.Offer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO offers (
			id, merchant_id, product_id, code, name, price_cents, currency,
			is_subscription, interval_unit, interval_count, trial_days, max_installments,
			preferred_provider, provider_config, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		offer.ID,
		offer.MerchantID,
		offer.ProductID,
		offer.Code,
		offer.Name,
		offer.PriceCents,
		offer.Currency,
		offer.IsSubscription,
		offer.IntervalUnit,
		offer.IntervalCount,
		offer.TrialDays,
		offer.MaxInstallments,
		offer.PreferredProvider,
		offer.ProviderConfig,
		offer.IsActive,
		offer.CreatedAt,
		offer.UpdatedAt,
	).Error
}

func (r *repo) UpdateOffer(ctx context.Context, db *gorm.DB, offer *domain.Offer) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE offers
		 SET name = ?, price_cents = ?, currency = ?, is_subscription = ?,
		     interval_unit = ?, interval_count = ?, trial_days = ?, max_installments = ?,
		     preferred_provider = ?, provider_config = ?, updated_at = ?
		 WHERE merchant_id = ? AND id = ?`,
		offer.Name,
		offer.PriceCents,
		offer.Currency,
		offer.IsSubscription,
		offer.IntervalUnit,
		offer.IntervalCount,
		offer.TrialDays,
		offer.MaxInstallments,
		offer.PreferredProvider,
		offer.ProviderConfig,
		offer.UpdatedAt,
		offer.MerchantID,
		offer.ID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindOffer(ctx context.Context, db *gorm.DB, merchantID, offerID int64) (*domain.Offer, error) {
	var item domain.Offer
	err := db.WithContext(ctx).Raw(
		`SELECT `+offerColumns+`
		 FROM offers
		 WHERE merchant_id = ? AND id = ?
		 LIMIT 1`,
		merchantID,
		offerID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListOffers(ctx context.Context, db *gorm.DB, merchantID int64, productID *int64) ([]domain.Offer, error) {
	query := `SELECT ` + offerColumns + `
		 FROM offers
		 WHERE merchant_id = ?`
	args := []any{merchantID}
	if productID != nil {
		query += ` AND product_id = ?`
		args = append(args, *productID)
	}
	query += ` ORDER BY created_at ASC`

	var items []domain.Offer
	err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdateOfferActive(ctx context.Context, db *gorm.DB, merchantID, offerID int64, isActive bool) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE offers SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE merchant_id = ? AND id = ?`,
		isActive,
		merchantID,
		offerID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
