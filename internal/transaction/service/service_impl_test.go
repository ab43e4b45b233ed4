package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/clock"
	"github.com/clinicware/payrail/internal/provider"
	"github.com/clinicware/payrail/internal/transaction/domain"
	"github.com/clinicware/payrail/internal/transaction/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTransactionService(t *testing.T) (*Service, *snowflake.Node, *clock.FakeClock) {
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

	if err := db.Exec(`CREATE TABLE payment_transactions (
		id BIGINT PRIMARY KEY,
		merchant_id BIGINT NOT NULL,
		customer_id BIGINT NOT NULL,
		subscription_id BIGINT,
		offer_id BIGINT,
		provider TEXT NOT NULL,
		provider_order_id TEXT,
		provider_charge_id TEXT,
		amount_cents BIGINT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'BRL',
		payment_method_type TEXT,
		status TEXT NOT NULL,
		clinic_amount_cents BIGINT NOT NULL DEFAULT 0,
		platform_amount_cents BIGINT NOT NULL DEFAULT 0,
		refunded_cents BIGINT NOT NULL DEFAULT 0,
		fee_payer TEXT NOT NULL DEFAULT 'clinic',
		idempotency_key TEXT,
		raw_payload JSON,
		raw_webhook JSON,
		paid_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create payment_transactions: %v", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX ux_payment_transactions_provider_order
		ON payment_transactions (provider, provider_order_id)`).Error; err != nil {
		t.Fatalf("create provider order index: %v", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX ux_payment_transactions_idempotency_key
		ON payment_transactions (idempotency_key)`).Error; err != nil {
		t.Fatalf("create idempotency index: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	svc := &Service{
		db:    db,
		log:   zap.NewNop(),
		genID: node,
		repo:  repository.Provide(),
		clock: fakeClock,
	}
	return svc, node, fakeClock
}

func TestCreateDuplicateIdempotencyKeyReturnsWinner(t *testing.T) {
	svc, node, _ := setupTransactionService(t)
	key := "ren-42-1767225600"
	req := domain.CreateRequest{
		MerchantID:     node.Generate().Int64(),
		CustomerID:     node.Generate().Int64(),
		Provider:       provider.Pagarme,
		AmountCents:    9900,
		IdempotencyKey: &key,
	}

	first, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create first: %v", err)
	}

	second, err := svc.Create(context.Background(), req)
	if !errors.Is(err, domain.ErrDuplicateCharge) {
		t.Fatalf("expected ErrDuplicateCharge, got %v", err)
	}
	if second == nil || second.ID != first.ID {
		t.Fatalf("expected the winning row back")
	}
}

func TestApplyProviderStatusUnknownOrderIsNoOp(t *testing.T) {
	svc, _, _ := setupTransactionService(t)

	tx, changed, err := svc.ApplyProviderStatus(context.Background(), domain.StatusUpdate{
		Provider:        provider.Stripe,
		ProviderOrderID: "pi_never_seen",
		Status:          domain.StatusSucceeded,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if tx != nil || changed {
		t.Fatal("unknown order must be a silent no-op")
	}
}

func TestApplyProviderStatusNeverDowngradesTerminal(t *testing.T) {
	svc, node, _ := setupTransactionService(t)
	orderID := "or_123"
	created, err := svc.Create(context.Background(), domain.CreateRequest{
		MerchantID:      node.Generate().Int64(),
		CustomerID:      node.Generate().Int64(),
		Provider:        provider.Pagarme,
		ProviderOrderID: &orderID,
		AmountCents:     5000,
		Status:          domain.StatusSucceeded,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A late "processing" webhook must not regress the settled row.
	tx, changed, err := svc.ApplyProviderStatus(context.Background(), domain.StatusUpdate{
		Provider:        provider.Pagarme,
		ProviderOrderID: orderID,
		Status:          domain.StatusProcessing,
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if changed {
		t.Fatal("terminal status must not be downgraded")
	}
	if tx.Status != domain.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED kept, got %s", tx.Status)
	}

	// Terminal to terminal (refund) still applies.
	_, changed, err = svc.ApplyProviderStatus(context.Background(), domain.StatusUpdate{
		Provider:        provider.Pagarme,
		ProviderOrderID: orderID,
		Status:          domain.StatusRefunded,
	})
	if err != nil {
		t.Fatalf("apply refund: %v", err)
	}
	if !changed {
		t.Fatal("refund must apply over succeeded")
	}

	got, err := svc.FindByID(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != domain.StatusRefunded {
		t.Fatalf("expected REFUNDED, got %s", got.Status)
	}
}

func TestApplyProviderStatusIdempotent(t *testing.T) {
	svc, node, _ := setupTransactionService(t)
	orderID := "or_repeat"
	if _, err := svc.Create(context.Background(), domain.CreateRequest{
		MerchantID:      node.Generate().Int64(),
		CustomerID:      node.Generate().Int64(),
		Provider:        provider.Appmax,
		ProviderOrderID: &orderID,
		AmountCents:     3000,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	update := domain.StatusUpdate{
		Provider:        provider.Appmax,
		ProviderOrderID: orderID,
		Status:          domain.StatusSucceeded,
	}
	_, changed, err := svc.ApplyProviderStatus(context.Background(), update)
	if err != nil || !changed {
		t.Fatalf("first apply: changed=%v err=%v", changed, err)
	}
	_, changed, err = svc.ApplyProviderStatus(context.Background(), update)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if changed {
		t.Fatal("replaying the same status must be a no-op")
	}
}

func TestHasTransactionForCycle(t *testing.T) {
	svc, node, fc := setupTransactionService(t)
	subID := node.Generate().Int64()
	periodEnd := fc.Now().Add(-time.Hour)

	ok, err := svc.HasTransactionForCycle(context.Background(), subID, periodEnd)
	if err != nil {
		t.Fatalf("check empty: %v", err)
	}
	if ok {
		t.Fatal("expected no cycle transaction yet")
	}

	if _, err := svc.Create(context.Background(), domain.CreateRequest{
		MerchantID:     node.Generate().Int64(),
		CustomerID:     node.Generate().Int64(),
		SubscriptionID: &subID,
		Provider:       provider.Pagarme,
		AmountCents:    9900,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err = svc.HasTransactionForCycle(context.Background(), subID, periodEnd)
	if err != nil {
		t.Fatalf("check after create: %v", err)
	}
	if !ok {
		t.Fatal("expected cycle transaction found")
	}
}

func TestListUnsettledSkipsRowsWithoutOrderID(t *testing.T) {
	svc, node, _ := setupTransactionService(t)
	orderID := "or_pending"

	if _, err := svc.Create(context.Background(), domain.CreateRequest{
		MerchantID:      node.Generate().Int64(),
		CustomerID:      node.Generate().Int64(),
		Provider:        provider.Pagarme,
		ProviderOrderID: &orderID,
		AmountCents:     1000,
		Status:          domain.StatusProcessing,
	}); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	// Timed-out dispatch: a PROCESSING row with no provider order to poll.
	if _, err := svc.Create(context.Background(), domain.CreateRequest{
		MerchantID:  node.Generate().Int64(),
		CustomerID:  node.Generate().Int64(),
		Provider:    provider.Pagarme,
		AmountCents: 1000,
		Status:      domain.StatusProcessing,
	}); err != nil {
		t.Fatalf("create orderless: %v", err)
	}

	items, err := svc.ListUnsettled(context.Background(), 72*time.Hour, 100)
	if err != nil {
		t.Fatalf("list unsettled: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 pollable row, got %d", len(items))
	}
}

func TestRecordRefundAccumulates(t *testing.T) {
	svc, node, _ := setupTransactionService(t)
	orderID := "or_refund"
	created, err := svc.Create(context.Background(), domain.CreateRequest{
		MerchantID:      node.Generate().Int64(),
		CustomerID:      node.Generate().Int64(),
		Provider:        provider.Stripe,
		ProviderOrderID: &orderID,
		AmountCents:     10000,
		Status:          domain.StatusSucceeded,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	partial, err := svc.RecordRefund(context.Background(), created.ID, 4000)
	if err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if partial.Status != domain.StatusPartiallyRefunded || partial.RefundedCents != 4000 {
		t.Fatalf("expected PARTIALLY_REFUNDED/4000, got %s/%d", partial.Status, partial.RefundedCents)
	}

	full, err := svc.RecordRefund(context.Background(), created.ID, 6000)
	if err != nil {
		t.Fatalf("full refund: %v", err)
	}
	if full.Status != domain.StatusRefunded || full.RefundedCents != 10000 {
		t.Fatalf("expected REFUNDED/10000, got %s/%d", full.Status, full.RefundedCents)
	}
}
