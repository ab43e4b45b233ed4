package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/clock"
	"github.com/clinicware/payrail/internal/observability/metrics"
	"github.com/clinicware/payrail/internal/provider"
	"github.com/clinicware/payrail/internal/transaction/domain"
	"github.com/clinicware/payrail/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    domain.Repository
	Metrics *metrics.Metrics `optional:"true"`
	Clock   clock.Clock
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    domain.Repository
	metrics *metrics.Metrics
	clock   clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("transaction.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		metrics: p.Metrics,
		clock:   p.Clock,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.PaymentTransaction, error) {
	if !req.Provider.Valid() {
		return nil, domain.ErrInvalidProvider
	}
	if req.AmountCents <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	status := req.Status
	if status == "" {
		status = domain.StatusPending
	}

	clinicCents, platformCents := splitAmount(req.AmountCents, req.PlatformFeeCents, req.FeePayer)
	now := s.clock.Now()
	tx := domain.PaymentTransaction{
		ID:                  s.genID.Generate().Int64(),
		MerchantID:          req.MerchantID,
		CustomerID:          req.CustomerID,
		SubscriptionID:      req.SubscriptionID,
		OfferID:             req.OfferID,
		Provider:            req.Provider.String(),
		ProviderOrderID:     req.ProviderOrderID,
		ProviderChargeID:    req.ProviderChargeID,
		AmountCents:         req.AmountCents,
		Currency:            normalizeCurrency(req.Currency),
		PaymentMethodType:   req.PaymentMethodType,
		Status:              status,
		ClinicAmountCents:   clinicCents,
		PlatformAmountCents: platformCents,
		FeePayer:            normalizeFeePayer(req.FeePayer),
		IdempotencyKey:      req.IdempotencyKey,
		RawPayload:          req.RawPayload,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if status == domain.StatusSucceeded {
		paidAt := now
		tx.PaidAt = &paidAt
	}

	if err := s.repo.Insert(ctx, s.db, &tx); err != nil {
		// A second dispatch carrying the same idempotency key is the
		// duplicate, not the caller's bug. Hand back the winner.
		if db.IsDuplicateKeyErr(err) && req.IdempotencyKey != nil {
			existing, findErr := s.repo.FindByIdempotencyKey(ctx, s.db, *req.IdempotencyKey)
			if findErr == nil && existing != nil {
				return existing, domain.ErrDuplicateCharge
			}
		}
		return nil, err
	}
	return &tx, nil
}

func (s *Service) ApplyProviderStatus(ctx context.Context, update domain.StatusUpdate) (*domain.PaymentTransaction, bool, error) {
	providerOrderID := strings.TrimSpace(update.ProviderOrderID)
	if !update.Provider.Valid() || providerOrderID == "" {
		return nil, false, domain.ErrInvalidProvider
	}

	existing, err := s.repo.FindByProviderOrder(ctx, s.db, update.Provider.String(), providerOrderID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// Webhook for an order this system never created. Idempotent no-op.
		s.log.Debug("provider status for unknown order ignored",
			zap.String("provider", update.Provider.String()),
			zap.String("provider_order_id", providerOrderID),
		)
		return nil, false, nil
	}

	if existing.Status == update.Status {
		return existing, false, nil
	}
	if existing.Status.Terminal() && !update.Status.Terminal() {
		s.log.Debug("terminal status preserved",
			zap.Int64("transaction_id", existing.ID),
			zap.String("local_status", string(existing.Status)),
			zap.String("provider_status", string(update.Status)),
		)
		return existing, false, nil
	}

	paidAt := update.PaidAt
	if update.Status == domain.StatusSucceeded && paidAt == nil {
		now := s.clock.Now()
		paidAt = &now
	}

	updated, err := s.repo.UpdateStatus(ctx, s.db, existing.ID, update.Status, update.RawWebhook, paidAt, s.clock.Now())
	if err != nil {
		return nil, false, err
	}
	if !updated {
		return existing, false, nil
	}

	existing.Status = update.Status
	if paidAt != nil {
		existing.PaidAt = paidAt
	}
	if s.metrics != nil {
		s.metrics.RecordPaymentEvent(ctx, existing.Provider, strings.ToLower(string(update.Status)))
	}
	return existing, true, nil
}

func (s *Service) FindByID(ctx context.Context, transactionID int64) (*domain.PaymentTransaction, error) {
	return s.repo.FindByID(ctx, s.db, transactionID)
}

func (s *Service) FindByProviderOrder(ctx context.Context, prov provider.Provider, providerOrderID string) (*domain.PaymentTransaction, error) {
	return s.repo.FindByProviderOrder(ctx, s.db, prov.String(), providerOrderID)
}

func (s *Service) FindByIdempotencyKey(ctx context.Context, key string) (*domain.PaymentTransaction, error) {
	return s.repo.FindByIdempotencyKey(ctx, s.db, key)
}

func (s *Service) HasTransactionForCycle(ctx context.Context, subscriptionID int64, periodEnd time.Time) (bool, error) {
	count, err := s.repo.CountForCycle(ctx, s.db, subscriptionID, periodEnd)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) ListUnsettled(ctx context.Context, window time.Duration, limit int) ([]domain.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	since := s.clock.Now().Add(-window)
	return s.repo.ListUnsettled(ctx, s.db, since, limit)
}

func (s *Service) RecordRefund(ctx context.Context, transactionID, refundedCents int64) (*domain.PaymentTransaction, error) {
	existing, err := s.repo.FindByID(ctx, s.db, transactionID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrTransactionMissing
	}

	total := existing.RefundedCents + refundedCents
	if total > existing.AmountCents {
		total = existing.AmountCents
	}
	status := domain.StatusPartiallyRefunded
	if total >= existing.AmountCents {
		status = domain.StatusRefunded
	}

	updated, err := s.repo.UpdateRefund(ctx, s.db, existing.ID, status, total, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, domain.ErrTransactionMissing
	}

	existing.Status = status
	existing.RefundedCents = total
	return existing, nil
}

func (s *Service) ListByMerchant(ctx context.Context, merchantID int64, limit int) ([]domain.PaymentTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListByMerchant(ctx, s.db, merchantID, limit)
}

// splitAmount computes the clinic/platform split. The platform fee comes out
// of the clinic's share unless the platform absorbs it; a split shares it
// evenly.
func splitAmount(amountCents, feeCents int64, feePayer string) (clinic, platform int64) {
	if feeCents < 0 {
		feeCents = 0
	}
	switch normalizeFeePayer(feePayer) {
	case domain.FeePayerPlatform:
		return amountCents, 0
	case domain.FeePayerSplit:
		half := feeCents / 2
		return amountCents - half, feeCents - half
	default:
		return amountCents - feeCents, feeCents
	}
}

func normalizeFeePayer(feePayer string) string {
	switch strings.ToLower(strings.TrimSpace(feePayer)) {
	case domain.FeePayerPlatform:
		return domain.FeePayerPlatform
	case domain.FeePayerSplit:
		return domain.FeePayerSplit
	default:
		return domain.FeePayerClinic
	}
}

func normalizeCurrency(currency string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(currency))
	if trimmed == "" {
		return "BRL"
	}
	return trimmed
}
