package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/clock"
	"github.com/clinicware/payrail/internal/customer/domain"
	"github.com/clinicware/payrail/internal/provider"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("customer.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) Resolve(ctx context.Context, merchantID int64, profile domain.Profile) (*domain.Customer, error) {
	if merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}

	email := strings.ToLower(strings.TrimSpace(profile.Email))
	document := domain.OnlyDigits(profile.Document)
	if email == "" && document == "" {
		return nil, domain.ErrInvalidProfile
	}

	existing, err := s.lookup(ctx, merchantID, email, document)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.backfill(ctx, existing, profile, email, document)
	}

	now := s.clock.Now()
	customer := domain.Customer{
		ID:         s.genID.Generate().Int64(),
		MerchantID: merchantID,
		Name:       strings.TrimSpace(profile.Name),
		Email:      email,
		Document:   document,
		Phone:      domain.OnlyDigits(profile.Phone),
		Country:    normalizeCountry(profile.Country),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, s.db, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *Service) lookup(ctx context.Context, merchantID int64, email, document string) (*domain.Customer, error) {
	if email != "" {
		found, err := s.repo.FindByEmail(ctx, s.db, merchantID, email)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return found, nil
		}
	}
	if document != "" {
		found, err := s.repo.FindByDocument(ctx, s.db, merchantID, document)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return found, nil
		}
	}
	return nil, nil
}

// backfill fills fields the stored row is missing from the incoming profile.
// Existing values are never overwritten; a checkout form typo must not
// clobber a verified document.
func (s *Service) backfill(ctx context.Context, existing *domain.Customer, profile domain.Profile, email, document string) (*domain.Customer, error) {
	changed := false
	if existing.Email == "" && email != "" {
		existing.Email = email
		changed = true
	}
	if existing.Document == "" && document != "" {
		existing.Document = document
		changed = true
	}
	if existing.Phone == "" {
		if phone := domain.OnlyDigits(profile.Phone); phone != "" {
			existing.Phone = phone
			changed = true
		}
	}
	if existing.Name == "" {
		if name := strings.TrimSpace(profile.Name); name != "" {
			existing.Name = name
			changed = true
		}
	}

	if !changed {
		return existing, nil
	}
	existing.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, s.db, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *Service) Get(ctx context.Context, merchantID, customerID int64) (*domain.Customer, error) {
	customer, err := s.repo.FindByID(ctx, s.db, merchantID, customerID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrCustomerNotFound
	}
	return customer, nil
}

func (s *Service) SavePaymentMethod(ctx context.Context, req domain.SavePaymentMethodRequest) (*domain.CustomerPaymentMethod, error) {
	if !req.Provider.Valid() {
		return nil, domain.ErrInvalidProvider
	}
	if req.CustomerID == 0 || strings.TrimSpace(req.ProviderPaymentMethodID) == "" {
		return nil, domain.ErrInvalidProfile
	}

	if req.SetDefault {
		if err := s.repo.ClearDefault(ctx, s.db, req.CustomerID, req.Provider.String()); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	method := domain.CustomerPaymentMethod{
		ID:                      s.genID.Generate().Int64(),
		CustomerID:              req.CustomerID,
		Provider:                req.Provider.String(),
		ProviderCustomerID:      strings.TrimSpace(req.ProviderCustomerID),
		ProviderPaymentMethodID: strings.TrimSpace(req.ProviderPaymentMethodID),
		Brand:                   req.Brand,
		Last4:                   req.Last4,
		ExpMonth:                req.ExpMonth,
		ExpYear:                 req.ExpYear,
		IsDefault:               req.SetDefault,
		Status:                  domain.PaymentMethodActive,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := s.repo.InsertPaymentMethod(ctx, s.db, &method); err != nil {
		return nil, err
	}
	return &method, nil
}

func (s *Service) DefaultPaymentMethod(ctx context.Context, customerID int64, prov provider.Provider) (*domain.CustomerPaymentMethod, error) {
	method, err := s.repo.FindDefaultPaymentMethod(ctx, s.db, customerID, prov.String())
	if err != nil {
		return nil, err
	}
	if method == nil {
		return nil, domain.ErrPaymentMethodMissing
	}
	return method, nil
}

func (s *Service) ListPaymentMethods(ctx context.Context, customerID int64) ([]domain.CustomerPaymentMethod, error) {
	return s.repo.ListPaymentMethods(ctx, s.db, customerID)
}

func (s *Service) RevokePaymentMethod(ctx context.Context, customerID, paymentMethodID int64) error {
	updated, err := s.repo.UpdatePaymentMethodStatus(ctx, s.db, customerID, paymentMethodID, domain.PaymentMethodRevoked)
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrPaymentMethodMissing
	}
	return nil
}

func normalizeCountry(country string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(country))
	if trimmed == "" {
		return "BR"
	}
	return trimmed
}
