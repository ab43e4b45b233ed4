package domain

import (
	"context"
	"errors"
	"strings"

	"github.com/clinicware/payrail/internal/provider"
	"gorm.io/gorm"
)

// Service resolves unified customers and manages the saved-card vault.
// Operations take an explicit merchant because checkout and renewal both
// call them outside an authenticated merchant request.
type Service interface {
	// Resolve returns the existing customer matching the profile's email or
	// document, filling in any newly supplied fields, or creates one.
	Resolve(ctx context.Context, merchantID int64, profile Profile) (*Customer, error)
	Get(ctx context.Context, merchantID, customerID int64) (*Customer, error)

	SavePaymentMethod(ctx context.Context, req SavePaymentMethodRequest) (*CustomerPaymentMethod, error)
	DefaultPaymentMethod(ctx context.Context, customerID int64, prov provider.Provider) (*CustomerPaymentMethod, error)
	ListPaymentMethods(ctx context.Context, customerID int64) ([]CustomerPaymentMethod, error)
	RevokePaymentMethod(ctx context.Context, customerID, paymentMethodID int64) error
}

type Profile struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Document string `json:"document"`
	Phone    string `json:"phone"`
	Country  string `json:"country"`
}

type SavePaymentMethodRequest struct {
	CustomerID              int64             `json:"customer_id"`
	Provider                provider.Provider `json:"provider"`
	ProviderCustomerID      string            `json:"provider_customer_id"`
	ProviderPaymentMethodID string            `json:"provider_payment_method_id"`
	Brand                   string            `json:"brand"`
	Last4                   string            `json:"last4"`
	ExpMonth                int               `json:"exp_month"`
	ExpYear                 int               `json:"exp_year"`
	SetDefault              bool              `json:"set_default"`
}

type Repository interface {
	FindByEmail(ctx context.Context, db *gorm.DB, merchantID int64, email string) (*Customer, error)
	FindByDocument(ctx context.Context, db *gorm.DB, merchantID int64, document string) (*Customer, error)
	FindByID(ctx context.Context, db *gorm.DB, merchantID, customerID int64) (*Customer, error)
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	Update(ctx context.Context, db *gorm.DB, customer *Customer) error

	InsertPaymentMethod(ctx context.Context, db *gorm.DB, method *CustomerPaymentMethod) error
	ClearDefault(ctx context.Context, db *gorm.DB, customerID int64, prov string) error
	FindDefaultPaymentMethod(ctx context.Context, db *gorm.DB, customerID int64, prov string) (*CustomerPaymentMethod, error)
	ListPaymentMethods(ctx context.Context, db *gorm.DB, customerID int64) ([]CustomerPaymentMethod, error)
	UpdatePaymentMethodStatus(ctx context.Context, db *gorm.DB, customerID, paymentMethodID int64, status string) (bool, error)
}

var (
	ErrInvalidMerchant      = errors.New("invalid_merchant")
	ErrInvalidProfile       = errors.New("invalid_profile")
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrCustomerNotFound     = errors.New("customer_not_found")
	ErrPaymentMethodMissing = errors.New("payment_method_missing")
)

// OnlyDigits strips every non-digit rune.
func OnlyDigits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidDocument accepts a CPF (11 digits) or CNPJ (14 digits).
func ValidDocument(document string) bool {
	digits := OnlyDigits(document)
	return len(digits) == 11 || len(digits) == 14
}

// ValidPhone requires at least 10 digits (Brazilian area code plus number).
func ValidPhone(phone string) bool {
	return len(OnlyDigits(phone)) >= 10
}
