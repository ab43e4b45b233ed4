package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/clock"
	integrationdomain "github.com/clinicware/payrail/internal/integration/domain"
	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
	"github.com/clinicware/payrail/internal/routing/domain"
	"github.com/clinicware/payrail/internal/routing/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// integrationStub answers activity lookups from a fixed set. Order of the
// active slice doubles as connection order for OldestActive.
type integrationStub struct {
	active []provider.Provider
}

func (s *integrationStub) isActive(p provider.Provider) bool {
	for _, candidate := range s.active {
		if candidate == p {
			return true
		}
	}
	return false
}

func (s *integrationStub) Connect(ctx context.Context, req integrationdomain.ConnectRequest) (*integrationdomain.Summary, error) {
	return nil, nil
}

func (s *integrationStub) Rotate(ctx context.Context, prov provider.Provider, credentials map[string]any) (*integrationdomain.Summary, error) {
	return nil, nil
}

func (s *integrationStub) SetActive(ctx context.Context, prov provider.Provider, isActive bool) (*integrationdomain.Summary, error) {
	return nil, nil
}

func (s *integrationStub) List(ctx context.Context) ([]integrationdomain.Summary, error) {
	return nil, nil
}

func (s *integrationStub) IsActive(ctx context.Context, merchantID int64, prov provider.Provider) (bool, error) {
	return s.isActive(prov), nil
}

func (s *integrationStub) ActiveProviders(ctx context.Context, merchantID int64) ([]provider.Provider, error) {
	return s.active, nil
}

func (s *integrationStub) OldestActive(ctx context.Context, merchantID int64) (provider.Provider, bool, error) {
	if len(s.active) == 0 {
		return "", false, nil
	}
	return s.active[0], true, nil
}

func (s *integrationStub) NewAdapter(ctx context.Context, merchantID int64, prov provider.Provider) (paymentdomain.Adapter, error) {
	return nil, integrationdomain.ErrNotFound
}

func (s *integrationStub) MarkUsed(ctx context.Context, merchantID int64, prov provider.Provider) error {
	return nil
}

func (s *integrationStub) RecordError(ctx context.Context, merchantID int64, prov provider.Provider, message string) error {
	return nil
}

func setupRoutingService(t *testing.T, integrations integrationdomain.Service) (*Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.Exec(`CREATE TABLE payment_routing_rules (
		id BIGINT PRIMARY KEY,
		merchant_id BIGINT NOT NULL,
		provider TEXT NOT NULL,
		offer_id BIGINT,
		product_id BIGINT,
		country TEXT,
		method TEXT,
		priority INTEGER NOT NULL DEFAULT 100,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create payment_routing_rules: %v", err)
	}
	if err := db.Exec(`CREATE TABLE offers (
		id BIGINT PRIMARY KEY,
		merchant_id BIGINT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		preferred_provider TEXT
	)`).Error; err != nil {
		t.Fatalf("create offers: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	svc := &Service{
		db:           db,
		log:          zap.NewNop(),
		genID:        node,
		repo:         repository.Provide(),
		integrations: integrations,
		clock:        clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	return svc, db, node
}

func insertRule(t *testing.T, db *gorm.DB, node *snowflake.Node, merchantID int64, prov provider.Provider, offerID, productID *int64, country, method *string, priority int, isActive bool) int64 {
	t.Helper()
	id := node.Generate().Int64()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := db.Exec(
		`INSERT INTO payment_routing_rules (
			id, merchant_id, provider, offer_id, product_id, country, method,
			priority, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, merchantID, prov.String(), offerID, productID, country, method, priority, isActive, now, now,
	).Error; err != nil {
		t.Fatalf("insert rule: %v", err)
	}
	return id
}

func insertOffer(t *testing.T, db *gorm.DB, offerID, merchantID int64, isActive bool, preferred *string) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO offers (id, merchant_id, is_active, preferred_provider) VALUES (?, ?, ?, ?)`,
		offerID, merchantID, isActive, preferred,
	).Error; err != nil {
		t.Fatalf("insert offer: %v", err)
	}
}

func ptr[T any](v T) *T { return &v }

func TestSelectProviderOfferPreferenceWins(t *testing.T) {
	integrations := &integrationStub{active: []provider.Provider{provider.Stripe, provider.Krxpay}}
	svc, db, node := setupRoutingService(t, integrations)
	merchantID := node.Generate().Int64()
	offerID := node.Generate().Int64()

	insertOffer(t, db, offerID, merchantID, true, ptr("KRXPAY"))
	// A more general rule exists but the offer preference outranks it.
	insertRule(t, db, node, merchantID, provider.Stripe, nil, nil, nil, nil, 1, true)

	decision := svc.SelectProvider(context.Background(), domain.SelectionRequest{
		MerchantID: merchantID,
		OfferID:    &offerID,
	})
	if decision.Provider != provider.Krxpay {
		t.Fatalf("expected KRXPAY, got %s", decision.Provider)
	}
	if decision.Tier != domain.TierOfferPreference {
		t.Fatalf("expected tier %s, got %s", domain.TierOfferPreference, decision.Tier)
	}
}

func TestSelectProviderPreferenceIgnoredWhenIntegrationInactive(t *testing.T) {
	integrations := &integrationStub{active: []provider.Provider{provider.Stripe}}
	svc, db, node := setupRoutingService(t, integrations)
	merchantID := node.Generate().Int64()
	offerID := node.Generate().Int64()

	insertOffer(t, db, offerID, merchantID, true, ptr("KRXPAY"))
	insertRule(t, db, node, merchantID, provider.Stripe, nil, nil, nil, nil, 1, true)

	decision := svc.SelectProvider(context.Background(), domain.SelectionRequest{
		MerchantID: merchantID,
		OfferID:    &offerID,
	})
	if decision.Provider != provider.Stripe {
		t.Fatalf("expected STRIPE via global rule, got %s", decision.Provider)
	}
	if decision.Tier != domain.TierGlobalRule {
		t.Fatalf("expected tier %s, got %s", domain.TierGlobalRule, decision.Tier)
	}
}

func TestSelectProviderSpecificityPrecedence(t *testing.T) {
	integrations := &integrationStub{active: []provider.Provider{provider.Stripe, provider.Pagarme, provider.Krxpay}}
	svc, db, node := setupRoutingService(t, integrations)
	merchantID := node.Generate().Int64()
	offerID := node.Generate().Int64()
	productID := node.Generate().Int64()

	insertRule(t, db, node, merchantID, provider.Krxpay, &offerID, nil, nil, nil, 50, true)
	insertRule(t, db, node, merchantID, provider.Pagarme, nil, &productID, nil, nil, 10, true)
	insertRule(t, db, node, merchantID, provider.Stripe, nil, nil, nil, nil, 1, true)

	// Offer-exact beats product-exact and global even at lower priority.
	decision := svc.SelectProvider(context.Background(), domain.SelectionRequest{
		MerchantID: merchantID,
		OfferID:    &offerID,
		ProductID:  &productID,
	})
	if decision.Provider != provider.Krxpay || decision.Tier != domain.TierOfferRule {
		t.Fatalf("expected KRXPAY/offer_rule, got %s/%s", decision.Provider, decision.Tier)
	}

	decision = svc.SelectProvider(context.Background(), domain.SelectionRequest{
		MerchantID: merchantID,
		ProductID:  &productID,
	})
	if decision.Provider != provider.Pagarme || decision.Tier != domain.TierProductRule {
		t.Fatalf("expected PAGARME/product_rule, got %s/%s", decision.Provider, decision.Tier)
	}

	decision = svc.SelectProvider(context.Background(), domain.SelectionRequest{
		MerchantID: merchantID,
	})
	if decision.Provider != provider.Stripe || decision.Tier != domain.TierGlobalRule {
		t.Fatalf("expected STRIPE/global_rule, got %s/%s", decision.Provider, decision.Tier)
	}
}

func TestSelectProviderSkipsRuleWithInactiveIntegration(t *testing.T) {
	integrations := &integrationStub{active: []provider.Provider{provider.Stripe}}
	svc, db, node := setupRoutingService(t, integrations)
	merchantID := node.Generate().Int64()
	offerID := node.Generate().Int64()

	// The offer rule matches first but its provider is disconnected.
	insertRule(t, db, node, merchantID, provider.Pagarme, &offerID, nil, nil, nil, 1, true)
	insertRule(t, db, node, merchantID, provider.Stripe, nil, nil, nil, nil, 1, true)

	decision := svc.SelectProvider(context.Background(), domain.SelectionRequest{
		MerchantID: merchantID,
		OfferID:    &offerID,
	})
	if decision.Provider != provider.Stripe || decision.Tier != domain.TierGlobalRule {
		t.Fatalf("expected STRIPE/global_rule, got %s/%s", decision.Provider, decision.Tier)
	}
}

func TestSelectProviderCountryAndMethodFilters(t *testing.T) {
	integrations := &integrationStub{active: []provider.Provider{provider.Stripe, provider.Pagarme}}
	svc, db, node := setupRoutingService(t, integrations)
	merchantID := node.Generate().Int64()

	insertRule(t, db, node, merchantID, provider.Pagarme, nil, nil, ptr("BR"), ptr("PIX"), 1, true)
	insertRule(t, db, node, merchantID, provider.Stripe, nil, nil, nil, nil, 10, true)

	decision := svc.SelectProvider(context.Background(), domain.SelectionRequest{
		MerchantID: merchantID,
		Country:    "br",
		Method:     provider.MethodPix,
	})
	if decision.Provider != provider.Pagarme {
		t.Fatalf("expected PAGARME for BR+PIX, got %s", decision.Provider)
	}

	// Same country, different method: the filtered rule must not match.
	decision = svc.SelectProvider(context.Background(), domain.SelectionRequest{
		MerchantID: merchantID,
		Country:    "BR",
		Method:     provider.MethodCard,
	})
	if decision.Provider != provider.Stripe {
		t.Fatalf("expected STRIPE for BR+CARD, got %s", decision.Provider)
	}
}

func TestSelectProviderPriorityOrderWithinTier(t *testing.T) {
	integrations := &integrationStub{active: []provider.Provider{provider.Stripe, provider.Pagarme}}
	svc, db, node := setupRoutingService(t, integrations)
	merchantID := node.Generate().Int64()

	insertRule(t, db, node, merchantID, provider.Stripe, nil, nil, nil, nil, 20, true)
	ruleID := insertRule(t, db, node, merchantID, provider.Pagarme, nil, nil, nil, nil, 5, true)

	decision := svc.SelectProvider(context.Background(), domain.SelectionRequest{MerchantID: merchantID})
	if decision.Provider != provider.Pagarme {
		t.Fatalf("expected lowest priority value to win, got %s", decision.Provider)
	}
	if decision.RuleID == nil || *decision.RuleID != ruleID {
		t.Fatalf("expected rule id %d on decision", ruleID)
	}
}

func TestSelectProviderFallbackChain(t *testing.T) {
	// Country default active.
	svc, _, node := setupRoutingService(t, &integrationStub{active: []provider.Provider{provider.Krxpay}})
	merchantID := node.Generate().Int64()
	decision := svc.SelectProvider(context.Background(), domain.SelectionRequest{MerchantID: merchantID, Country: "BR"})
	if decision.Provider != provider.Krxpay || decision.Tier != domain.TierCountryDefault {
		t.Fatalf("expected KRXPAY/country_default, got %s/%s", decision.Provider, decision.Tier)
	}
}

func TestSelectProviderFallsBackToOldestActive(t *testing.T) {
	svc, _, node := setupRoutingService(t, &integrationStub{active: []provider.Provider{provider.Appmax, provider.Stripe}})
	merchantID := node.Generate().Int64()

	// BR default (KRXPAY) is not connected; the oldest active integration wins.
	decision := svc.SelectProvider(context.Background(), domain.SelectionRequest{MerchantID: merchantID, Country: "BR"})
	if decision.Provider != provider.Appmax || decision.Tier != domain.TierFirstActive {
		t.Fatalf("expected APPMAX/first_active, got %s/%s", decision.Provider, decision.Tier)
	}
}

func TestSelectProviderHardcodedWhenNothingConnected(t *testing.T) {
	svc, _, node := setupRoutingService(t, &integrationStub{})
	merchantID := node.Generate().Int64()

	decision := svc.SelectProvider(context.Background(), domain.SelectionRequest{MerchantID: merchantID, Country: "US"})
	if decision.Provider != provider.Stripe || decision.Tier != domain.TierHardcoded {
		t.Fatalf("expected STRIPE/hardcoded, got %s/%s", decision.Provider, decision.Tier)
	}
}

func TestSelectProviderDeterministic(t *testing.T) {
	integrations := &integrationStub{active: []provider.Provider{provider.Stripe, provider.Pagarme}}
	svc, db, node := setupRoutingService(t, integrations)
	merchantID := node.Generate().Int64()

	insertRule(t, db, node, merchantID, provider.Pagarme, nil, nil, nil, nil, 5, true)
	insertRule(t, db, node, merchantID, provider.Stripe, nil, nil, nil, nil, 5, true)

	req := domain.SelectionRequest{MerchantID: merchantID}
	first := svc.SelectProvider(context.Background(), req)
	for i := 0; i < 10; i++ {
		next := svc.SelectProvider(context.Background(), req)
		if next.Provider != first.Provider || next.Tier != first.Tier {
			t.Fatalf("selection not deterministic: %s/%s vs %s/%s",
				first.Provider, first.Tier, next.Provider, next.Tier)
		}
	}
}
