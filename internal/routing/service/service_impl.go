package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/clock"
	integrationdomain "github.com/clinicware/payrail/internal/integration/domain"
	"github.com/clinicware/payrail/internal/merchantctx"
	"github.com/clinicware/payrail/internal/observability/metrics"
	"github.com/clinicware/payrail/internal/provider"
	"github.com/clinicware/payrail/internal/routing/domain"
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
	Metrics      *metrics.Metrics `optional:"true"`
	Clock        clock.Clock
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	repo         domain.Repository
	integrations integrationdomain.Service
	metrics      *metrics.Metrics
	clock        clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("routing.service"),
		genID:        p.GenID,
		repo:         p.Repo,
		integrations: p.Integrations,
		metrics:      p.Metrics,
		clock:        p.Clock,
	}
}

// SelectProvider walks the selection chain until a provider comes out. Every
// read failure is logged and treated as "no match here", so checkout never
// fails because routing data was unavailable.
func (s *Service) SelectProvider(ctx context.Context, req domain.SelectionRequest) domain.Decision {
	country := strings.ToUpper(strings.TrimSpace(req.Country))

	if decision, ok := s.offerPreference(ctx, req); ok {
		return s.decided(ctx, decision)
	}

	if decision, ok := s.matchRules(ctx, req, country); ok {
		return s.decided(ctx, decision)
	}

	fallback := provider.DefaultFor(country)
	if active, err := s.integrations.IsActive(ctx, req.MerchantID, fallback); err != nil {
		s.log.Warn("routing fallback lookup failed",
			zap.Int64("merchant_id", req.MerchantID),
			zap.Error(err),
		)
	} else if active {
		return s.decided(ctx, domain.Decision{Provider: fallback, Tier: domain.TierCountryDefault})
	}

	if oldest, found, err := s.integrations.OldestActive(ctx, req.MerchantID); err != nil {
		s.log.Warn("routing oldest-active lookup failed",
			zap.Int64("merchant_id", req.MerchantID),
			zap.Error(err),
		)
	} else if found {
		return s.decided(ctx, domain.Decision{Provider: oldest, Tier: domain.TierFirstActive})
	}

	// Nothing is connected. The caller gets the country default anyway and
	// the charge fails downstream with a configuration error.
	return s.decided(ctx, domain.Decision{Provider: fallback, Tier: domain.TierHardcoded})
}

func (s *Service) offerPreference(ctx context.Context, req domain.SelectionRequest) (domain.Decision, bool) {
	if req.OfferID == nil {
		return domain.Decision{}, false
	}

	pref, err := s.repo.FindOfferPreference(ctx, s.db, *req.OfferID)
	if err != nil {
		s.log.Warn("routing offer preference lookup failed",
			zap.Int64("merchant_id", req.MerchantID),
			zap.Int64("offer_id", *req.OfferID),
			zap.Error(err),
		)
		return domain.Decision{}, false
	}
	if pref == nil || !pref.IsActive || pref.PreferredProvider == nil {
		return domain.Decision{}, false
	}

	p, ok := provider.Parse(*pref.PreferredProvider)
	if !ok {
		return domain.Decision{}, false
	}
	if active, err := s.integrations.IsActive(ctx, req.MerchantID, p); err != nil || !active {
		return domain.Decision{}, false
	}
	return domain.Decision{Provider: p, Tier: domain.TierOfferPreference}, true
}

// matchRules evaluates active rules tier by tier. Within a tier the rules are
// already ordered by priority; the first rule whose provider integration is
// active wins. A matching rule pointing at an inactive integration is skipped
// rather than ending the search.
func (s *Service) matchRules(ctx context.Context, req domain.SelectionRequest, country string) (domain.Decision, bool) {
	rules, err := s.repo.ListActiveByMerchant(ctx, s.db, req.MerchantID)
	if err != nil {
		s.log.Warn("routing rule load failed",
			zap.Int64("merchant_id", req.MerchantID),
			zap.Error(err),
		)
		return domain.Decision{}, false
	}
	if len(rules) == 0 {
		return domain.Decision{}, false
	}

	tiers := []struct {
		name  string
		match func(rule *domain.PaymentRoutingRule) bool
	}{
		{domain.TierOfferRule, func(rule *domain.PaymentRoutingRule) bool {
			return rule.OfferID != nil && req.OfferID != nil && *rule.OfferID == *req.OfferID
		}},
		{domain.TierProductRule, func(rule *domain.PaymentRoutingRule) bool {
			return rule.OfferID == nil && rule.ProductID != nil && req.ProductID != nil && *rule.ProductID == *req.ProductID
		}},
		{domain.TierGlobalRule, func(rule *domain.PaymentRoutingRule) bool {
			return rule.OfferID == nil && rule.ProductID == nil
		}},
	}

	for _, tier := range tiers {
		for i := range rules {
			rule := &rules[i]
			if !tier.match(rule) {
				continue
			}
			if !filtersMatch(rule, country, req.Method) {
				continue
			}

			p, ok := provider.Parse(rule.Provider)
			if !ok {
				continue
			}
			active, err := s.integrations.IsActive(ctx, req.MerchantID, p)
			if err != nil {
				s.log.Warn("routing rule integration lookup failed",
					zap.Int64("merchant_id", req.MerchantID),
					zap.Int64("rule_id", rule.ID),
					zap.Error(err),
				)
				continue
			}
			if !active {
				continue
			}

			ruleID := rule.ID
			return domain.Decision{Provider: p, Tier: tier.name, RuleID: &ruleID}, true
		}
	}
	return domain.Decision{}, false
}

// filtersMatch applies the optional country and method filters. An absent
// filter matches any request value; a present filter requires equality.
func filtersMatch(rule *domain.PaymentRoutingRule, country string, method provider.Method) bool {
	if rule.Country != nil && !strings.EqualFold(strings.TrimSpace(*rule.Country), country) {
		return false
	}
	if rule.Method != nil {
		ruleMethod, ok := provider.ParseMethod(*rule.Method)
		if !ok || ruleMethod != method {
			return false
		}
	}
	return true
}

func (s *Service) decided(ctx context.Context, decision domain.Decision) domain.Decision {
	if s.metrics != nil {
		s.metrics.RecordRoutingDecision(ctx, decision.Provider.String(), decision.Tier)
	}
	return decision
}

func (s *Service) CreateRule(ctx context.Context, req domain.RuleRequest) (*domain.PaymentRoutingRule, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}
	if err := validateRule(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	rule := domain.PaymentRoutingRule{
		ID:         s.genID.Generate().Int64(),
		MerchantID: int64(merchantID),
		Provider:   req.Provider.String(),
		OfferID:    req.OfferID,
		ProductID:  req.ProductID,
		Country:    normalizeFilter(req.Country),
		Method:     normalizeFilter(req.Method),
		Priority:   req.Priority,
		IsActive:   req.IsActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, s.db, &rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *Service) UpdateRule(ctx context.Context, ruleID int64, req domain.RuleRequest) (*domain.PaymentRoutingRule, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}
	if err := validateRule(req); err != nil {
		return nil, err
	}

	existing, err := s.repo.Find(ctx, s.db, int64(merchantID), ruleID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrRuleNotFound
	}

	existing.Provider = req.Provider.String()
	existing.OfferID = req.OfferID
	existing.ProductID = req.ProductID
	existing.Country = normalizeFilter(req.Country)
	existing.Method = normalizeFilter(req.Method)
	existing.Priority = req.Priority
	existing.IsActive = req.IsActive
	existing.UpdatedAt = s.clock.Now()

	updated, err := s.repo.Update(ctx, s.db, existing)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrRuleNotFound
	}
	return existing, nil
}

func (s *Service) DeleteRule(ctx context.Context, ruleID int64) error {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.ErrInvalidMerchant
	}

	deleted, err := s.repo.Delete(ctx, s.db, int64(merchantID), ruleID)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrRuleNotFound
	}
	return nil
}

func (s *Service) ListRules(ctx context.Context) ([]domain.PaymentRoutingRule, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}
	return s.repo.ListByMerchant(ctx, s.db, int64(merchantID))
}

func validateRule(req domain.RuleRequest) error {
	if !req.Provider.Valid() {
		return domain.ErrInvalidProvider
	}
	if req.Method != nil {
		if _, ok := provider.ParseMethod(*req.Method); !ok {
			return domain.ErrInvalidMethod
		}
	}
	return nil
}

func normalizeFilter(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.ToUpper(strings.TrimSpace(*value))
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
