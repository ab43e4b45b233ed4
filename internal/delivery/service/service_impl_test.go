package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/clinicware/payrail/internal/clock"
	"github.com/clinicware/payrail/internal/delivery/domain"
	"github.com/clinicware/payrail/internal/delivery/repository"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type receiver struct {
	mu       sync.Mutex
	status   int
	requests []*http.Request
	keys     []string
}

func (rec *receiver) handler(w http.ResponseWriter, r *http.Request) {
	rec.mu.Lock()
	rec.requests = append(rec.requests, r)
	rec.keys = append(rec.keys, r.Header.Get("X-Payrail-Idempotency-Key"))
	status := rec.status
	rec.mu.Unlock()
	w.WriteHeader(status)
}

func (rec *receiver) setStatus(status int) {
	rec.mu.Lock()
	rec.status = status
	rec.mu.Unlock()
}

func (rec *receiver) count() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.requests)
}

func setupDeliveryService(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock, *receiver, *httptest.Server) {
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

	if err := db.Exec(`CREATE TABLE outbound_webhook_deliveries (
		id BIGINT PRIMARY KEY,
		merchant_id BIGINT NOT NULL,
		event_id BIGINT NOT NULL,
		event_type TEXT NOT NULL,
		url TEXT NOT NULL,
		payload JSON NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_at DATETIME,
		last_error TEXT,
		idempotency_key TEXT NOT NULL,
		delivered_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`).Error; err != nil {
		t.Fatalf("create outbound_webhook_deliveries: %v", err)
	}

	rec := &receiver{status: http.StatusOK}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	t.Cleanup(srv.Close)

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	svc := &Service{
		db:            db,
		log:           zap.NewNop(),
		genID:         node,
		repo:          repository.Provide(),
		clock:         fakeClock,
		signingSecret: "test-secret",
		httpClient:    srv.Client(),
	}
	return svc, db, fakeClock, rec, srv
}

func enqueue(t *testing.T, svc *Service, url string) *domain.OutboundWebhookDelivery {
	t.Helper()
	delivery, err := svc.Enqueue(context.Background(), domain.EnqueueRequest{
		MerchantID: 1,
		EventID:    2,
		EventType:  "subscription_billed",
		URL:        url,
		Payload:    []byte(`{"hello":"clinic"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return delivery
}

func TestAttemptDeliversAndSigns(t *testing.T) {
	svc, _, _, rec, srv := setupDeliveryService(t)
	delivery := enqueue(t, svc, srv.URL)

	if err := svc.Attempt(context.Background(), delivery.ID); err != nil {
		t.Fatalf("attempt: %v", err)
	}

	got, err := svc.repo.FindByID(context.Background(), svc.db, delivery.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != domain.DeliveryDelivered {
		t.Fatalf("expected DELIVERED, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.Attempts)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(rec.requests))
	}
	if sig := rec.requests[0].Header.Get("X-Payrail-Signature"); sig == "" {
		t.Fatal("expected signature header")
	}
}

func TestAttemptSchedulesRetryOnFailure(t *testing.T) {
	svc, _, fc, rec, srv := setupDeliveryService(t)
	rec.setStatus(http.StatusInternalServerError)
	delivery := enqueue(t, svc, srv.URL)

	if err := svc.Attempt(context.Background(), delivery.ID); err != nil {
		t.Fatalf("attempt: %v", err)
	}

	got, _ := svc.repo.FindByID(context.Background(), svc.db, delivery.ID)
	if got.Status != domain.DeliveryPending {
		t.Fatalf("expected still PENDING, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.Attempts)
	}
	if got.NextAttemptAt == nil || !got.NextAttemptAt.After(fc.Now()) {
		t.Fatal("expected a future retry schedule")
	}
	if got.LastError == nil {
		t.Fatal("expected last_error recorded")
	}
}

func TestAttemptCapMarksTerminalFailed(t *testing.T) {
	svc, db, _, rec, srv := setupDeliveryService(t)
	rec.setStatus(http.StatusBadGateway)
	delivery := enqueue(t, svc, srv.URL)

	// One attempt away from the cap.
	if err := db.Exec(
		`UPDATE outbound_webhook_deliveries SET attempts = ? WHERE id = ?`,
		domain.MaxAttempts-1, delivery.ID,
	).Error; err != nil {
		t.Fatalf("set attempts: %v", err)
	}

	if err := svc.Attempt(context.Background(), delivery.ID); err != nil {
		t.Fatalf("attempt: %v", err)
	}

	got, _ := svc.repo.FindByID(context.Background(), svc.db, delivery.ID)
	if got.Status != domain.DeliveryFailed {
		t.Fatalf("expected FAILED at attempt %d, got %s", domain.MaxAttempts, got.Status)
	}
	if got.Attempts != domain.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", domain.MaxAttempts, got.Attempts)
	}

	// Terminal rows reject further attempts.
	if err := svc.Attempt(context.Background(), delivery.ID); err != domain.ErrDeliveryTerminal {
		t.Fatalf("expected ErrDeliveryTerminal, got %v", err)
	}
}

func TestSweepStuckRetriesWithFreshKey(t *testing.T) {
	svc, _, fc, rec, srv := setupDeliveryService(t)
	delivery := enqueue(t, svc, srv.URL)
	originalKey := delivery.IdempotencyKey

	// Not stuck yet: inside the idle threshold.
	retried, failed, err := svc.SweepStuck(context.Background(), 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if retried != 0 || failed != 0 {
		t.Fatalf("expected nothing swept, got retried=%d failed=%d", retried, failed)
	}

	fc.Advance(domain.StuckThreshold + time.Minute)
	retried, failed, err = svc.SweepStuck(context.Background(), 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if retried != 1 || failed != 0 {
		t.Fatalf("expected retried=1 failed=0, got retried=%d failed=%d", retried, failed)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.keys) != 1 {
		t.Fatalf("expected 1 request, got %d", len(rec.keys))
	}
	if rec.keys[0] == originalKey {
		t.Fatal("re-trigger must carry a fresh idempotency key")
	}
}

func TestSweepStuckFailsRowsAtCap(t *testing.T) {
	svc, db, fc, rec, srv := setupDeliveryService(t)
	rec.setStatus(http.StatusInternalServerError)
	atCap := enqueue(t, svc, srv.URL)
	underCap := enqueue(t, svc, srv.URL)

	if err := db.Exec(
		`UPDATE outbound_webhook_deliveries SET attempts = ? WHERE id = ?`,
		domain.MaxAttempts, atCap.ID,
	).Error; err != nil {
		t.Fatalf("set attempts: %v", err)
	}
	if err := db.Exec(
		`UPDATE outbound_webhook_deliveries SET attempts = ? WHERE id = ?`,
		domain.MaxAttempts-1, underCap.ID,
	).Error; err != nil {
		t.Fatalf("set attempts: %v", err)
	}

	fc.Advance(domain.StuckThreshold + time.Minute)
	retried, failed, err := svc.SweepStuck(context.Background(), 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	// The capped row fails without another network call; the one below the
	// cap gets its final network attempt.
	if failed != 1 || retried != 1 {
		t.Fatalf("expected failed=1 retried=1, got failed=%d retried=%d", failed, retried)
	}
	if rec.count() != 1 {
		t.Fatalf("expected exactly 1 network attempt, got %d", rec.count())
	}

	gotAtCap, _ := svc.repo.FindByID(context.Background(), svc.db, atCap.ID)
	if gotAtCap.Status != domain.DeliveryFailed {
		t.Fatalf("expected FAILED for capped row, got %s", gotAtCap.Status)
	}
	// That final attempt pushed the second row over the cap too.
	gotUnderCap, _ := svc.repo.FindByID(context.Background(), svc.db, underCap.ID)
	if gotUnderCap.Status != domain.DeliveryFailed {
		t.Fatalf("expected FAILED for row at final attempt, got %s", gotUnderCap.Status)
	}
}
