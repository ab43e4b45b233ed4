package repository

import (
	"context"

	"github.com/clinicware/payrail/internal/customer/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const customerColumns = `id, merchant_id, name, email, document, phone, country, created_at, updated_at`

const paymentMethodColumns = `id, customer_id, provider, provider_customer_id, provider_payment_method_id,
        brand, last4, exp_month, exp_year, is_default, status, created_at, updated_at`

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, merchantID int64, email string) (*domain.Customer, error) {
	var item domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT `+customerColumns+`
		 FROM customers
		 WHERE merchant_id = ? AND LOWER(email) = LOWER(?)
		 LIMIT 1`,
		merchantID,
		email,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByDocument(ctx context.Context, db *gorm.DB, merchantID int64, document string) (*domain.Customer, error) {
	var item domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT `+customerColumns+`
		 FROM customers
		 WHERE merchant_id = ? AND document = ?
		 LIMIT 1`,
		merchantID,
		document,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, merchantID, customerID int64) (*domain.Customer, error) {
	var item domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT `+customerColumns+`
		 FROM customers
		 WHERE merchant_id = ? AND id = ?
		 LIMIT 1`,
		merchantID,
		customerID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (id, merchant_id, name, email, document, phone, country, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.MerchantID,
		customer.Name,
		customer.Email,
		customer.Document,
		customer.Phone,
		customer.Country,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET name = ?, email = ?, document = ?, phone = ?, country = ?, updated_at = ?
		 WHERE merchant_id = ? AND id = ?`,
		customer.Name,
		customer.Email,
		customer.Document,
		customer.Phone,
		customer.Country,
		customer.UpdatedAt,
		customer.MerchantID,
		customer.ID,
	).Error
}

func (r *repo) InsertPaymentMethod(ctx context.Context, db *gorm.DB, method *domain.CustomerPaymentMethod) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customer_payment_methods (
			id, customer_id, provider, provider_customer_id, provider_payment_method_id,
			brand, last4, exp_month, exp_year, is_default, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		method.ID,
		method.CustomerID,
		method.Provider,
		method.ProviderCustomerID,
		method.ProviderPaymentMethodID,
		method.Brand,
		method.Last4,
		method.ExpMonth,
		method.ExpYear,
		method.IsDefault,
		method.Status,
		method.CreatedAt,
		method.UpdatedAt,
	).Error
}

func (r *repo) ClearDefault(ctx context.Context, db *gorm.DB, customerID int64, prov string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customer_payment_methods
		 SET is_default = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE customer_id = ? AND provider = ? AND is_default = ?`,
		false,
		customerID,
		prov,
		true,
	).Error
}

func (r *repo) FindDefaultPaymentMethod(ctx context.Context, db *gorm.DB, customerID int64, prov string) (*domain.CustomerPaymentMethod, error) {
	var item domain.CustomerPaymentMethod
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentMethodColumns+`
		 FROM customer_payment_methods
		 WHERE customer_id = ? AND provider = ? AND status = ?
		 ORDER BY is_default DESC, created_at DESC
		 LIMIT 1`,
		customerID,
		prov,
		domain.PaymentMethodActive,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListPaymentMethods(ctx context.Context, db *gorm.DB, customerID int64) ([]domain.CustomerPaymentMethod, error) {
	var items []domain.CustomerPaymentMethod
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentMethodColumns+`
		 FROM customer_payment_methods
		 WHERE customer_id = ?
		 ORDER BY created_at DESC`,
		customerID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) UpdatePaymentMethodStatus(ctx context.Context, db *gorm.DB, customerID, paymentMethodID int64, status string) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE customer_payment_methods
		 SET status = ?, is_default = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE customer_id = ? AND id = ?`,
		status,
		false,
		customerID,
		paymentMethodID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
