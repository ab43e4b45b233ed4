package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/clock"
	"github.com/clinicware/payrail/internal/provider"
	"github.com/clinicware/payrail/internal/subscription/domain"
	"github.com/clinicware/payrail/internal/subscription/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupSubscriptionService(t *testing.T) (*Service, *gorm.DB, *snowflake.Node, *clock.FakeClock) {
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

	if err := db.Exec(`CREATE TABLE customer_subscriptions (
		id BIGINT PRIMARY KEY,
		merchant_id BIGINT NOT NULL,
		customer_id BIGINT NOT NULL,
		offer_id BIGINT NOT NULL,
		provider TEXT NOT NULL,
		provider_subscription_id TEXT,
		is_native BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		price_cents BIGINT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'BRL',
		interval_unit TEXT NOT NULL,
		interval_count INTEGER NOT NULL DEFAULT 1,
		current_period_start DATETIME NOT NULL,
		current_period_end DATETIME NOT NULL,
		canceled_at DATETIME,
		linkage JSON,
		needs_attention BOOLEAN NOT NULL DEFAULT FALSE,
		attention_reason TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create customer_subscriptions: %v", err)
	}
	if err := db.Exec(`CREATE TABLE customers (
		id BIGINT PRIMARY KEY,
		document TEXT,
		phone TEXT
	)`).Error; err != nil {
		t.Fatalf("create customers: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	svc := &Service{
		db:    db,
		log:   zap.NewNop(),
		genID: node,
		repo:  repository.Provide(),
		clock: fakeClock,
	}
	return svc, db, node, fakeClock
}

func seedSubscription(t *testing.T, svc *Service, node *snowflake.Node, status domain.Status, isNative bool, periodEnd time.Time) *domain.CustomerSubscription {
	t.Helper()
	linkage, _ := json.Marshal(domain.ProviderLinkage{
		Pagarme: &domain.PagarmeLinkage{CustomerID: "cus_123", CardID: "card_123"},
	})
	sub := &domain.CustomerSubscription{
		ID:                 node.Generate().Int64(),
		MerchantID:         node.Generate().Int64(),
		CustomerID:         node.Generate().Int64(),
		OfferID:            node.Generate().Int64(),
		Provider:           provider.Pagarme.String(),
		IsNative:           isNative,
		Status:             status,
		PriceCents:         9900,
		Currency:           "BRL",
		IntervalUnit:       "month",
		IntervalCount:      1,
		CurrentPeriodStart: periodEnd.AddDate(0, -1, 0),
		CurrentPeriodEnd:   periodEnd,
		Linkage:            linkage,
		CreatedAt:          svc.clock.Now(),
		UpdatedAt:          svc.clock.Now(),
	}
	if err := svc.repo.Insert(context.Background(), svc.db, sub); err != nil {
		t.Fatalf("insert subscription: %v", err)
	}
	return sub
}

func seedGateCustomer(t *testing.T, db *gorm.DB, customerID int64, document, phone string) {
	t.Helper()
	if err := db.Exec(
		`INSERT INTO customers (id, document, phone) VALUES (?, ?, ?)`,
		customerID, document, phone,
	).Error; err != nil {
		t.Fatalf("insert customer: %v", err)
	}
}

func TestActivateOnPaymentFromPending(t *testing.T) {
	svc, _, node, fc := setupSubscriptionService(t)
	sub := seedSubscription(t, svc, node, domain.StatusPending, false, fc.Now().AddDate(0, 1, 0))

	if err := svc.ActivateOnPayment(context.Background(), sub.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	got, err := svc.FindByID(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != domain.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", got.Status)
	}
}

func TestPastDueRecoversToActive(t *testing.T) {
	svc, _, node, fc := setupSubscriptionService(t)
	sub := seedSubscription(t, svc, node, domain.StatusPastDue, false, fc.Now())

	if err := svc.ActivateOnPayment(context.Background(), sub.ID); err != nil {
		t.Fatalf("activate from past_due: %v", err)
	}

	got, _ := svc.FindByID(context.Background(), sub.ID)
	if got.Status != domain.StatusActive {
		t.Fatalf("expected ACTIVE, got %s", got.Status)
	}
}

func TestCancelSetsCanceledAtOnce(t *testing.T) {
	svc, _, node, fc := setupSubscriptionService(t)
	periodEnd := fc.Now().AddDate(0, 1, 0)
	sub := seedSubscription(t, svc, node, domain.StatusActive, false, periodEnd)

	if err := svc.Cancel(context.Background(), sub.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	first, _ := svc.FindByID(context.Background(), sub.ID)
	if first.CanceledAt == nil {
		t.Fatal("expected canceled_at set")
	}
	if first.Status != domain.StatusCanceled {
		t.Fatalf("expected CANCELED, got %s", first.Status)
	}
	if !first.CurrentPeriodEnd.Equal(periodEnd) {
		t.Fatalf("cancel must not touch current_period_end: %v vs %v", first.CurrentPeriodEnd, periodEnd)
	}

	// Re-cancel later is a no-op; the original timestamp stays.
	fc.Advance(48 * time.Hour)
	if err := svc.Cancel(context.Background(), sub.ID); err != nil {
		t.Fatalf("re-cancel: %v", err)
	}
	second, _ := svc.FindByID(context.Background(), sub.ID)
	if !second.CanceledAt.Equal(*first.CanceledAt) {
		t.Fatalf("canceled_at changed on re-cancel: %v vs %v", second.CanceledAt, first.CanceledAt)
	}
}

func TestTransitionRejectedAfterCancel(t *testing.T) {
	svc, _, node, fc := setupSubscriptionService(t)
	sub := seedSubscription(t, svc, node, domain.StatusActive, false, fc.Now())

	if err := svc.Cancel(context.Background(), sub.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := svc.ActivateOnPayment(context.Background(), sub.ID); err != domain.ErrAlreadyCanceled {
		t.Fatalf("expected ErrAlreadyCanceled, got %v", err)
	}
	if err := svc.MarkPastDue(context.Background(), sub.ID); err != domain.ErrAlreadyCanceled {
		t.Fatalf("expected ErrAlreadyCanceled, got %v", err)
	}
}

func TestAdvancePeriodMovesExactlyOneInterval(t *testing.T) {
	svc, _, node, fc := setupSubscriptionService(t)
	periodEnd := fc.Now()
	sub := seedSubscription(t, svc, node, domain.StatusPastDue, false, periodEnd)

	advanced, err := svc.AdvancePeriod(context.Background(), sub.ID, periodEnd)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !advanced {
		t.Fatal("expected period to advance")
	}

	got, _ := svc.FindByID(context.Background(), sub.ID)
	if !got.CurrentPeriodStart.Equal(periodEnd) {
		t.Fatalf("expected period start %v, got %v", periodEnd, got.CurrentPeriodStart)
	}
	if !got.CurrentPeriodEnd.Equal(periodEnd.AddDate(0, 1, 0)) {
		t.Fatalf("expected period end %v, got %v", periodEnd.AddDate(0, 1, 0), got.CurrentPeriodEnd)
	}
	if got.Status != domain.StatusActive {
		t.Fatalf("expected ACTIVE after advance, got %s", got.Status)
	}

	// Replaying the same expected end is a no-op: the CAS guard fails.
	advanced, err = svc.AdvancePeriod(context.Background(), sub.ID, periodEnd)
	if err != nil {
		t.Fatalf("replay advance: %v", err)
	}
	if advanced {
		t.Fatal("replayed advance must not apply")
	}
}

func TestCancellationWinsAdvanceRace(t *testing.T) {
	svc, _, node, fc := setupSubscriptionService(t)
	periodEnd := fc.Now()
	sub := seedSubscription(t, svc, node, domain.StatusActive, false, periodEnd)

	// Cancellation lands between charge dispatch and settlement.
	if err := svc.Cancel(context.Background(), sub.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	advanced, err := svc.AdvancePeriod(context.Background(), sub.ID, periodEnd)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if advanced {
		t.Fatal("advance must lose against cancellation")
	}

	got, _ := svc.FindByID(context.Background(), sub.ID)
	if got.Status != domain.StatusCanceled {
		t.Fatalf("expected CANCELED, got %s", got.Status)
	}
	if !got.CurrentPeriodEnd.Equal(periodEnd) {
		t.Fatalf("period end must stay %v, got %v", periodEnd, got.CurrentPeriodEnd)
	}
}

func TestListDueBoundaryInclusive(t *testing.T) {
	svc, _, node, fc := setupSubscriptionService(t)
	now := fc.Now()
	due := seedSubscription(t, svc, node, domain.StatusActive, false, now)
	seedSubscription(t, svc, node, domain.StatusActive, false, now.Add(time.Second))

	items, err := svc.ListDue(context.Background(), []provider.Provider{provider.Pagarme}, now, 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly the boundary row, got %d", len(items))
	}
	if items[0].ID != due.ID {
		t.Fatalf("expected subscription %d, got %d", due.ID, items[0].ID)
	}
}

func TestListDueExcludesNativeAndCanceled(t *testing.T) {
	svc, _, node, fc := setupSubscriptionService(t)
	now := fc.Now()
	manual := seedSubscription(t, svc, node, domain.StatusActive, false, now.Add(-time.Hour))
	seedSubscription(t, svc, node, domain.StatusActive, true, now.Add(-time.Hour))
	canceled := seedSubscription(t, svc, node, domain.StatusActive, false, now.Add(-time.Hour))
	if err := svc.Cancel(context.Background(), canceled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	pastDue := seedSubscription(t, svc, node, domain.StatusPastDue, false, now.Add(-2*time.Hour))

	items, err := svc.ListDue(context.Background(), []provider.Provider{provider.Pagarme}, now, 10)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 due rows, got %d", len(items))
	}
	// Oldest due first.
	if items[0].ID != pastDue.ID || items[1].ID != manual.ID {
		t.Fatalf("expected oldest-first order [%d %d], got [%d %d]",
			pastDue.ID, manual.ID, items[0].ID, items[1].ID)
	}
}

func TestCountNativeDue(t *testing.T) {
	svc, _, node, fc := setupSubscriptionService(t)
	now := fc.Now()
	seedSubscription(t, svc, node, domain.StatusActive, true, now.Add(-time.Hour))
	seedSubscription(t, svc, node, domain.StatusActive, true, now.Add(time.Hour))
	seedSubscription(t, svc, node, domain.StatusActive, false, now.Add(-time.Hour))

	count, err := svc.CountNativeDue(context.Background(), now)
	if err != nil {
		t.Fatalf("count native due: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 native due, got %d", count)
	}
}

func TestCheckPrerequisitesGate(t *testing.T) {
	svc, db, node, fc := setupSubscriptionService(t)

	sub := seedSubscription(t, svc, node, domain.StatusActive, false, fc.Now())
	seedGateCustomer(t, db, sub.CustomerID, "52998224725", "+55 11 91234-5678")
	if err := svc.CheckPrerequisites(context.Background(), sub); err != nil {
		t.Fatalf("expected gate to pass: %v", err)
	}

	// Short document (neither CPF nor CNPJ).
	badDoc := seedSubscription(t, svc, node, domain.StatusActive, false, fc.Now())
	seedGateCustomer(t, db, badDoc.CustomerID, "12345", "+55 11 91234-5678")
	if err := svc.CheckPrerequisites(context.Background(), badDoc); err != domain.ErrInvalidDocument {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}

	// Phone below ten digits.
	badPhone := seedSubscription(t, svc, node, domain.StatusActive, false, fc.Now())
	seedGateCustomer(t, db, badPhone.CustomerID, "52998224725", "1234")
	if err := svc.CheckPrerequisites(context.Background(), badPhone); err != domain.ErrInvalidPhone {
		t.Fatalf("expected ErrInvalidPhone, got %v", err)
	}

	// Missing card linkage.
	noCard := seedSubscription(t, svc, node, domain.StatusActive, false, fc.Now())
	linkage, _ := json.Marshal(domain.ProviderLinkage{Pagarme: &domain.PagarmeLinkage{CustomerID: "cus_9"}})
	if err := db.Exec(`UPDATE customer_subscriptions SET linkage = ? WHERE id = ?`, linkage, noCard.ID).Error; err != nil {
		t.Fatalf("update linkage: %v", err)
	}
	reloaded, _ := svc.FindByID(context.Background(), noCard.ID)
	seedGateCustomer(t, db, noCard.CustomerID, "52998224725", "+55 11 91234-5678")
	if err := svc.CheckPrerequisites(context.Background(), reloaded); err != domain.ErrMissingPagarmeCard {
		t.Fatalf("expected ErrMissingPagarmeCard, got %v", err)
	}

	// Flagged rows never pass the gate.
	flagged := seedSubscription(t, svc, node, domain.StatusActive, false, fc.Now())
	seedGateCustomer(t, db, flagged.CustomerID, "52998224725", "+55 11 91234-5678")
	if err := svc.FlagForAttention(context.Background(), flagged.ID, "manual review"); err != nil {
		t.Fatalf("flag: %v", err)
	}
	reflagged, _ := svc.FindByID(context.Background(), flagged.ID)
	if err := svc.CheckPrerequisites(context.Background(), reflagged); err != domain.ErrNeedsAttention {
		t.Fatalf("expected ErrNeedsAttention, got %v", err)
	}
}
