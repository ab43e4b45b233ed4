package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/catalog/domain"
	"github.com/clinicware/payrail/internal/clock"
	"github.com/clinicware/payrail/internal/merchantctx"
	"github.com/clinicware/payrail/internal/provider"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
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
		log:   p.Log.Named("catalog.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductRequest) (*domain.Product, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	product := domain.Product{
		ID:          id.Int64(),
		MerchantID:  int64(merchantID),
		Code:        slug.Make(name) + "-" + id.Base36(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertProduct(ctx, s.db, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}
	return s.repo.ListProducts(ctx, s.db, int64(merchantID))
}

func (s *Service) CreateOffer(ctx context.Context, req domain.OfferRequest) (*domain.Offer, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}
	if err := validateOffer(req); err != nil {
		return nil, err
	}

	product, err := s.repo.FindProduct(ctx, s.db, int64(merchantID), req.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, domain.ErrProductNotFound
	}

	providerConfig, err := marshalConfig(req.ProviderConfig)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	offer := domain.Offer{
		ID:                id.Int64(),
		MerchantID:        int64(merchantID),
		ProductID:         req.ProductID,
		Code:              slug.Make(req.Name) + "-" + id.Base36(),
		Name:              strings.TrimSpace(req.Name),
		PriceCents:        req.PriceCents,
		Currency:          normalizeCurrency(req.Currency),
		IsSubscription:    req.IsSubscription,
		IntervalUnit:      req.IntervalUnit,
		IntervalCount:     req.IntervalCount,
		TrialDays:         req.TrialDays,
		MaxInstallments:   maxInstallments(req.MaxInstallments),
		PreferredProvider: req.PreferredProvider,
		ProviderConfig:    providerConfig,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.InsertOffer(ctx, s.db, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

func (s *Service) UpdateOffer(ctx context.Context, offerID int64, req domain.OfferRequest) (*domain.Offer, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}
	if err := validateOffer(req); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindOffer(ctx, s.db, int64(merchantID), offerID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrOfferNotFound
	}

	providerConfig := existing.ProviderConfig
	if req.ProviderConfig != nil {
		providerConfig, err = marshalConfig(req.ProviderConfig)
		if err != nil {
			return nil, err
		}
	}

	existing.Name = strings.TrimSpace(req.Name)
	existing.PriceCents = req.PriceCents
	existing.Currency = normalizeCurrency(req.Currency)
	existing.IsSubscription = req.IsSubscription
	existing.IntervalUnit = req.IntervalUnit
	existing.IntervalCount = req.IntervalCount
	existing.TrialDays = req.TrialDays
	existing.MaxInstallments = maxInstallments(req.MaxInstallments)
	existing.PreferredProvider = req.PreferredProvider
	existing.ProviderConfig = providerConfig
	existing.UpdatedAt = s.clock.Now()

	updated, err := s.repo.UpdateOffer(ctx, s.db, existing)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrOfferNotFound
	}
	return existing, nil
}

func (s *Service) GetOffer(ctx context.Context, offerID int64) (*domain.Offer, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}

	offer, err := s.repo.FindOffer(ctx, s.db, int64(merchantID), offerID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, domain.ErrOfferNotFound
	}
	return offer, nil
}

func (s *Service) ListOffers(ctx context.Context, productID *int64) ([]domain.Offer, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}
	return s.repo.ListOffers(ctx, s.db, int64(merchantID), productID)
}

func (s *Service) SetOfferActive(ctx context.Context, offerID int64, isActive bool) error {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return domain.ErrInvalidMerchant
	}

	updated, err := s.repo.UpdateOfferActive(ctx, s.db, int64(merchantID), offerID, isActive)
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrOfferNotFound
	}
	return nil
}

func (s *Service) MergeProviderConfig(ctx context.Context, offerID int64, patch map[string]any) (*domain.Offer, error) {
	merchantID, ok := merchantctx.MerchantIDFromContext(ctx)
	if !ok || merchantID == 0 {
		return nil, domain.ErrInvalidMerchant
	}

	existing, err := s.repo.FindOffer(ctx, s.db, int64(merchantID), offerID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrOfferNotFound
	}

	current := map[string]any{}
	if len(existing.ProviderConfig) > 0 {
		if err := json.Unmarshal(existing.ProviderConfig, &current); err != nil {
			s.log.Warn("offer provider config unreadable, replacing",
				zap.Int64("offer_id", offerID),
				zap.Error(err),
			)
			current = map[string]any{}
		}
	}

	merged := DeepMerge(current, patch)
	providerConfig, err := marshalConfig(merged)
	if err != nil {
		return nil, err
	}

	existing.ProviderConfig = providerConfig
	existing.UpdatedAt = s.clock.Now()
	updated, err := s.repo.UpdateOffer(ctx, s.db, existing)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrOfferNotFound
	}
	return existing, nil
}

func (s *Service) FindOffer(ctx context.Context, merchantID, offerID int64) (*domain.Offer, error) {
	return s.repo.FindOffer(ctx, s.db, merchantID, offerID)
}

// DeepMerge merges patch into base. Nested maps merge recursively, scalars
// and arrays in the patch replace, and an explicit null deletes the key.
func DeepMerge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for key, value := range base {
		out[key] = value
	}
	for key, value := range patch {
		if value == nil {
			delete(out, key)
			continue
		}
		patchMap, patchIsMap := value.(map[string]any)
		baseMap, baseIsMap := out[key].(map[string]any)
		if patchIsMap && baseIsMap {
			out[key] = DeepMerge(baseMap, patchMap)
			continue
		}
		out[key] = value
	}
	return out
}

func validateOffer(req domain.OfferRequest) error {
	if strings.TrimSpace(req.Name) == "" {
		return domain.ErrInvalidName
	}
	if req.PriceCents <= 0 {
		return domain.ErrInvalidPrice
	}
	if req.IsSubscription {
		if !domain.ValidInterval(req.IntervalUnit) || req.IntervalCount <= 0 {
			return domain.ErrInvalidInterval
		}
	}
	if req.PreferredProvider != nil {
		if _, ok := provider.Parse(*req.PreferredProvider); !ok {
			return domain.ErrInvalidProvider
		}
	}
	return nil
}

func marshalConfig(config map[string]any) (datatypes.JSON, error) {
	if len(config) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func normalizeCurrency(currency string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(currency))
	if trimmed == "" {
		return "BRL"
	}
	return trimmed
}

func maxInstallments(value int) int {
	if value <= 0 {
		return 1
	}
	return value
}
