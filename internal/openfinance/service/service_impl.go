package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/clock"
	integrationdomain "github.com/clinicware/payrail/internal/integration/domain"
	"github.com/clinicware/payrail/internal/openfinance/domain"
	ofadapter "github.com/clinicware/payrail/internal/payment/adapters/openfinance"
	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
	"github.com/clinicware/payrail/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Repo         domain.Repository
	Integrations integrationdomain.Service
	Clock        clock.Clock
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	repo         domain.Repository
	integrations integrationdomain.Service
	clock        clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("openfinance.service"),
		genID:        p.GenID,
		repo:         p.Repo,
		integrations: p.Integrations,
		clock:        p.Clock,
	}
}

func (s *Service) CreateConsent(ctx context.Context, req domain.CreateConsentRequest) (*domain.ConsentWithAuthURL, error) {
	if req.MerchantID == 0 || req.CustomerID == 0 || req.AmountCents <= 0 {
		return nil, domain.ErrInvalidRequest
	}
	if !req.Periodicity.Valid() || strings.TrimSpace(req.ProviderUserID) == "" {
		return nil, domain.ErrInvalidRequest
	}

	adapter, err := s.integrations.NewAdapter(ctx, req.MerchantID, provider.OpenFinance)
	if err != nil {
		return nil, err
	}
	aggregator, ok := adapter.(*ofadapter.Adapter)
	if !ok {
		return nil, paymentdomain.ErrInvalidConfig
	}

	result, err := aggregator.CreateRecurringConsent(ctx, ofadapter.ConsentRequest{
		ProviderUserID: req.ProviderUserID,
		AmountCents:    req.AmountCents,
		Periodicity:    string(req.Periodicity),
		RedirectURL:    req.RedirectURL,
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	firstDebit := req.FirstDebitAt
	if firstDebit.IsZero() {
		firstDebit = req.Periodicity.Next(now)
	}

	consent := domain.OpenFinanceConsent{
		ID:              s.genID.Generate().Int64(),
		MerchantID:      req.MerchantID,
		CustomerID:      req.CustomerID,
		SubscriptionID:  req.SubscriptionID,
		LinkID:          result.LinkID,
		ConsentID:       result.ConsentID,
		ContractID:      result.ContractID,
		Status:          domain.ConsentPending,
		AmountCents:     req.AmountCents,
		Currency:        normalizeCurrency(req.Currency),
		Periodicity:     req.Periodicity,
		NextExecutionAt: firstDebit,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, s.db, &consent); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateLink
		}
		return nil, err
	}

	s.log.Info("open finance consent created",
		zap.Int64("merchant_id", req.MerchantID),
		zap.String("link_id", consent.LinkID),
		zap.String("periodicity", string(consent.Periodicity)),
	)
	return &domain.ConsentWithAuthURL{Consent: &consent, AuthURL: result.AuthURL}, nil
}

func (s *Service) Authorize(ctx context.Context, linkID string) error {
	consent, err := s.findByLink(ctx, linkID)
	if err != nil {
		return err
	}
	if consent.Status == domain.ConsentAuthorized {
		return nil
	}
	if consent.Status != domain.ConsentPending {
		return domain.ErrConsentInactive
	}

	_, err = s.repo.UpdateStatus(ctx, s.db, consent.ID, domain.ConsentAuthorized, s.clock.Now())
	return err
}

func (s *Service) Revoke(ctx context.Context, linkID string) error {
	consent, err := s.findByLink(ctx, linkID)
	if err != nil {
		return err
	}
	if consent.Status == domain.ConsentRevoked {
		return nil
	}

	_, err = s.repo.UpdateStatus(ctx, s.db, consent.ID, domain.ConsentRevoked, s.clock.Now())
	if err != nil {
		return err
	}
	s.log.Info("open finance consent revoked",
		zap.Int64("merchant_id", consent.MerchantID),
		zap.String("link_id", consent.LinkID),
	)
	return nil
}

func (s *Service) RevokeByConsentID(ctx context.Context, consentID string) error {
	trimmed := strings.TrimSpace(consentID)
	if trimmed == "" {
		return domain.ErrInvalidRequest
	}
	consent, err := s.repo.FindByConsentID(ctx, s.db, trimmed)
	if err != nil {
		return err
	}
	if consent == nil {
		// The aggregator may revoke consents we never finished recording.
		s.log.Warn("revocation for unknown consent ignored", zap.String("consent_id", trimmed))
		return nil
	}
	return s.Revoke(ctx, consent.LinkID)
}

func (s *Service) FindByLinkID(ctx context.Context, linkID string) (*domain.OpenFinanceConsent, error) {
	return s.findByLink(ctx, linkID)
}

func (s *Service) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.OpenFinanceConsent, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListDue(ctx, s.db, now, limit)
}

func (s *Service) AdvanceSchedule(ctx context.Context, consentID int64) error {
	consent, err := s.repo.FindByID(ctx, s.db, consentID)
	if err != nil {
		return err
	}
	if consent == nil {
		return domain.ErrConsentNotFound
	}

	next := consent.Periodicity.Next(consent.NextExecutionAt)
	return s.repo.AdvanceSchedule(ctx, s.db, consent.ID, next, s.clock.Now())
}

func (s *Service) findByLink(ctx context.Context, linkID string) (*domain.OpenFinanceConsent, error) {
	trimmed := strings.TrimSpace(linkID)
	if trimmed == "" {
		return nil, domain.ErrInvalidRequest
	}
	consent, err := s.repo.FindByLinkID(ctx, s.db, trimmed)
	if err != nil {
		return nil, err
	}
	if consent == nil {
		return nil, domain.ErrConsentNotFound
	}
	return consent, nil
}

func normalizeCurrency(currency string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(currency))
	if trimmed == "" {
		return "BRL"
	}
	return trimmed
}
