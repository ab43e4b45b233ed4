package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/clinicware/payrail/internal/catalog/domain"
	"github.com/clinicware/payrail/internal/clock"
	customerdomain "github.com/clinicware/payrail/internal/customer/domain"
	"github.com/clinicware/payrail/internal/observability/metrics"
	"github.com/clinicware/payrail/internal/provider"
	"github.com/clinicware/payrail/internal/subscription/domain"
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
		log:   p.Log.Named("subscription.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.CustomerSubscription, error) {
	if req.MerchantID == 0 || req.CustomerID == 0 || req.OfferID == 0 {
		return nil, domain.ErrInvalidRequest
	}
	if !req.Provider.Valid() || req.PriceCents <= 0 {
		return nil, domain.ErrInvalidRequest
	}
	if !catalogdomain.ValidInterval(req.IntervalUnit) || req.IntervalCount <= 0 {
		return nil, domain.ErrInvalidRequest
	}

	now := s.clock.Now()
	startAt := req.StartAt
	if startAt.IsZero() {
		startAt = now
	}

	status := domain.StatusPending
	periodEnd := catalogdomain.AddInterval(startAt, req.IntervalUnit, req.IntervalCount)
	if req.TrialDays > 0 {
		status = domain.StatusTrial
		periodEnd = startAt.AddDate(0, 0, req.TrialDays)
	}

	linkage, err := json.Marshal(req.Linkage)
	if err != nil {
		return nil, domain.ErrInvalidRequest
	}

	sub := domain.CustomerSubscription{
		ID:                 s.genID.Generate().Int64(),
		MerchantID:         req.MerchantID,
		CustomerID:         req.CustomerID,
		OfferID:            req.OfferID,
		Provider:           req.Provider.String(),
		ProviderSubID:      req.ProviderSubID,
		IsNative:           req.IsNative,
		Status:             status,
		PriceCents:         req.PriceCents,
		Currency:           normalizeCurrency(req.Currency),
		IntervalUnit:       req.IntervalUnit,
		IntervalCount:      req.IntervalCount,
		CurrentPeriodStart: startAt,
		CurrentPeriodEnd:   periodEnd,
		Linkage:            linkage,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Insert(ctx, s.db, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Service) FindByID(ctx context.Context, subscriptionID int64) (*domain.CustomerSubscription, error) {
	sub, err := s.repo.FindByID(ctx, s.db, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) FindByProviderSub(ctx context.Context, prov provider.Provider, providerSubID string) (*domain.CustomerSubscription, error) {
	return s.repo.FindByProviderSub(ctx, s.db, prov.String(), providerSubID)
}

func (s *Service) ListByCustomer(ctx context.Context, customerID int64) ([]domain.CustomerSubscription, error) {
	return s.repo.ListByCustomer(ctx, s.db, customerID)
}

func (s *Service) ActivateOnPayment(ctx context.Context, subscriptionID int64) error {
	return s.transition(ctx, subscriptionID, domain.StatusActive)
}

func (s *Service) MarkPastDue(ctx context.Context, subscriptionID int64) error {
	return s.transition(ctx, subscriptionID, domain.StatusPastDue)
}

func (s *Service) transition(ctx context.Context, subscriptionID int64, to domain.Status) error {
	sub, err := s.FindByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.CanceledAt != nil {
		return domain.ErrAlreadyCanceled
	}
	if sub.Status == to {
		return nil
	}
	if !domain.CanTransition(sub.Status, to) {
		return domain.ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, s.db, subscriptionID, to, s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		// canceled_at was set between the read and the write
		return domain.ErrAlreadyCanceled
	}

	metrics.Scheduler().IncSubscriptionTransition(string(sub.Status), string(to))
	s.log.Info("subscription transitioned",
		zap.Int64("subscription_id", subscriptionID),
		zap.String("from", string(sub.Status)),
		zap.String("to", string(to)),
	)
	return nil
}

func (s *Service) Cancel(ctx context.Context, subscriptionID int64) error {
	sub, err := s.FindByID(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.CanceledAt != nil {
		return nil
	}

	canceled, err := s.repo.SetCanceled(ctx, s.db, subscriptionID, s.clock.Now())
	if err != nil {
		return err
	}
	if canceled {
		metrics.Scheduler().IncSubscriptionTransition(string(sub.Status), string(domain.StatusCanceled))
		s.log.Info("subscription canceled",
			zap.Int64("subscription_id", subscriptionID),
			zap.String("from", string(sub.Status)),
		)
	}
	return nil
}

func (s *Service) AdvancePeriod(ctx context.Context, subscriptionID int64, expectedPeriodEnd time.Time) (bool, error) {
	sub, err := s.FindByID(ctx, subscriptionID)
	if err != nil {
		return false, err
	}

	newStart := expectedPeriodEnd
	newEnd := catalogdomain.AddInterval(expectedPeriodEnd, sub.IntervalUnit, sub.IntervalCount)
	advanced, err := s.repo.AdvancePeriod(ctx, s.db, subscriptionID, expectedPeriodEnd, newStart, newEnd, s.clock.Now())
	if err != nil {
		return false, err
	}
	if !advanced {
		s.log.Warn("period advance lost the race",
			zap.Int64("subscription_id", subscriptionID),
			zap.Time("expected_period_end", expectedPeriodEnd),
		)
		return false, nil
	}

	if sub.Status != domain.StatusActive {
		metrics.Scheduler().IncSubscriptionTransition(string(sub.Status), string(domain.StatusActive))
	}
	return true, nil
}

func (s *Service) ListDue(ctx context.Context, providers []provider.Provider, now time.Time, limit int) ([]domain.CustomerSubscription, error) {
	if limit <= 0 {
		limit = 100
	}
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.String())
	}
	return s.repo.ListDue(ctx, s.db, names, now, limit)
}

func (s *Service) CountNativeDue(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.CountNativeDue(ctx, s.db, now)
}

func (s *Service) FlagForAttention(ctx context.Context, subscriptionID int64, reason string) error {
	trimmed := strings.TrimSpace(reason)
	return s.repo.SetAttention(ctx, s.db, subscriptionID, true, &trimmed, s.clock.Now())
}

func (s *Service) ClearAttention(ctx context.Context, subscriptionID int64) error {
	return s.repo.SetAttention(ctx, s.db, subscriptionID, false, nil, s.clock.Now())
}

// CheckPrerequisites is the gate before a manual-renewal charge. A failure
// here means skip-and-flag: the subscription must not produce a provider
// call until an operator restores the missing piece.
func (s *Service) CheckPrerequisites(ctx context.Context, sub *domain.CustomerSubscription) error {
	if sub.NeedsAttention {
		return domain.ErrNeedsAttention
	}

	linkage, err := s.LinkageOf(sub)
	if err != nil {
		return err
	}
	if p, ok := provider.Parse(sub.Provider); ok {
		if err := linkage.Validate(p); err != nil {
			return err
		}
	}

	document, phone, err := s.repo.FindCustomer(ctx, s.db, sub.CustomerID)
	if err != nil {
		return err
	}
	if !customerdomain.ValidDocument(document) {
		return domain.ErrInvalidDocument
	}
	if !customerdomain.ValidPhone(phone) {
		return domain.ErrInvalidPhone
	}
	return nil
}

func (s *Service) LinkageOf(sub *domain.CustomerSubscription) (domain.ProviderLinkage, error) {
	var linkage domain.ProviderLinkage
	if len(sub.Linkage) == 0 {
		return linkage, nil
	}
	if err := json.Unmarshal(sub.Linkage, &linkage); err != nil {
		return linkage, domain.ErrInvalidRequest
	}
	return linkage, nil
}

func (s *Service) SetLinkage(ctx context.Context, subscriptionID int64, linkage domain.ProviderLinkage) error {
	raw, err := json.Marshal(linkage)
	if err != nil {
		return domain.ErrInvalidRequest
	}
	return s.repo.UpdateLinkage(ctx, s.db, subscriptionID, raw, s.clock.Now())
}

func normalizeCurrency(currency string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(currency))
	if trimmed == "" {
		return "BRL"
	}
	return trimmed
}
