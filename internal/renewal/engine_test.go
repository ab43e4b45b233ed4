package renewal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	catalogdomain "github.com/clinicware/payrail/internal/catalog/domain"
	"github.com/clinicware/payrail/internal/clock"
	"github.com/clinicware/payrail/internal/config"
	customerdomain "github.com/clinicware/payrail/internal/customer/domain"
	deliverydomain "github.com/clinicware/payrail/internal/delivery/domain"
	eventsdomain "github.com/clinicware/payrail/internal/events/domain"
	integrationdomain "github.com/clinicware/payrail/internal/integration/domain"
	openfinancedomain "github.com/clinicware/payrail/internal/openfinance/domain"
	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
	subscriptiondomain "github.com/clinicware/payrail/internal/subscription/domain"
	transactiondomain "github.com/clinicware/payrail/internal/transaction/domain"
	"go.uber.org/zap"
)

// chargeAdapter counts provider calls and answers with a configurable
// outcome. A renewal run that must not reach the provider asserts calls == 0.
type chargeAdapter struct {
	mu          sync.Mutex
	prov        provider.Provider
	charges     []paymentdomain.ChargeRequest
	chargeErr   error
	orderStatus paymentdomain.OrderStatus
	orderSeq    int
}

func (a *chargeAdapter) Provider() provider.Provider { return a.prov }

func (a *chargeAdapter) CreateCustomer(ctx context.Context, profile paymentdomain.CustomerProfile) (string, error) {
	return "cus_stub", nil
}

func (a *chargeAdapter) TokenizeCard(ctx context.Context, customerRef string, card paymentdomain.CardDetails) (*paymentdomain.CardToken, error) {
	return &paymentdomain.CardToken{ProviderCardID: "card_stub"}, nil
}

func (a *chargeAdapter) CreateCharge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.charges = append(a.charges, req)
	if a.chargeErr != nil {
		return nil, a.chargeErr
	}
	a.orderSeq++
	status := a.orderStatus
	if status == "" {
		status = paymentdomain.OrderPaid
	}
	return &paymentdomain.ChargeResult{
		ProviderOrderID: fmt.Sprintf("or_%d", a.orderSeq),
		Status:          status,
	}, nil
}

func (a *chargeAdapter) CreateSubscriptionPlan(ctx context.Context, req paymentdomain.SubscriptionPlanRequest) (string, error) {
	return "plan_stub", nil
}

func (a *chargeAdapter) GetOrder(ctx context.Context, providerOrderID string) (*paymentdomain.OrderSnapshot, error) {
	status := a.orderStatus
	if status == "" {
		status = paymentdomain.OrderPaid
	}
	return &paymentdomain.OrderSnapshot{ProviderOrderID: providerOrderID, Status: status}, nil
}

func (a *chargeAdapter) Refund(ctx context.Context, providerOrderID string, amountCents int64) (*paymentdomain.RefundResult, error) {
	return &paymentdomain.RefundResult{AmountCents: amountCents, Status: paymentdomain.OrderRefunded}, nil
}

func (a *chargeAdapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	return nil
}

func (a *chargeAdapter) ParseWebhook(ctx context.Context, payload []byte) (*paymentdomain.WebhookEvent, error) {
	return nil, paymentdomain.ErrEventIgnored
}

func (a *chargeAdapter) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.charges)
}

type subscriptionStub struct {
	subscriptiondomain.Service

	subs       map[int64]*subscriptiondomain.CustomerSubscription
	linkages   map[int64]subscriptiondomain.ProviderLinkage
	prereqErrs map[int64]error
	nativeDue  int64

	flagged   map[int64]string
	pastDue   []int64
	activated []int64
	advanced  []int64
}

func newSubscriptionStub() *subscriptionStub {
	return &subscriptionStub{
		subs:       map[int64]*subscriptiondomain.CustomerSubscription{},
		linkages:   map[int64]subscriptiondomain.ProviderLinkage{},
		prereqErrs: map[int64]error{},
		flagged:    map[int64]string{},
	}
}

func (s *subscriptionStub) FindByID(ctx context.Context, id int64) (*subscriptiondomain.CustomerSubscription, error) {
	return s.subs[id], nil
}

func (s *subscriptionStub) ActivateOnPayment(ctx context.Context, id int64) error {
	s.activated = append(s.activated, id)
	return nil
}

func (s *subscriptionStub) MarkPastDue(ctx context.Context, id int64) error {
	s.pastDue = append(s.pastDue, id)
	return nil
}

func (s *subscriptionStub) AdvancePeriod(ctx context.Context, id int64, expected time.Time) (bool, error) {
	s.advanced = append(s.advanced, id)
	return true, nil
}

func (s *subscriptionStub) ListDue(ctx context.Context, providers []provider.Provider, now time.Time, limit int) ([]subscriptiondomain.CustomerSubscription, error) {
	var due []subscriptiondomain.CustomerSubscription
	for _, sub := range s.subs {
		if sub.IsNative || sub.CanceledAt != nil || sub.CurrentPeriodEnd.After(now) {
			continue
		}
		for _, p := range providers {
			if sub.Provider == p.String() {
				due = append(due, *sub)
				break
			}
		}
	}
	return due, nil
}

func (s *subscriptionStub) CountNativeDue(ctx context.Context, now time.Time) (int64, error) {
	return s.nativeDue, nil
}

func (s *subscriptionStub) FlagForAttention(ctx context.Context, id int64, reason string) error {
	s.flagged[id] = reason
	if sub, ok := s.subs[id]; ok {
		sub.NeedsAttention = true
	}
	return nil
}

func (s *subscriptionStub) CheckPrerequisites(ctx context.Context, sub *subscriptiondomain.CustomerSubscription) error {
	if sub.NeedsAttention {
		return subscriptiondomain.ErrNeedsAttention
	}
	return s.prereqErrs[sub.ID]
}

func (s *subscriptionStub) LinkageOf(sub *subscriptiondomain.CustomerSubscription) (subscriptiondomain.ProviderLinkage, error) {
	return s.linkages[sub.ID], nil
}

type transactionStub struct {
	transactiondomain.Service

	created      []transactiondomain.CreateRequest
	byKey        map[string]*transactiondomain.PaymentTransaction
	cycleCharged map[int64]bool
	unsettled    []transactiondomain.PaymentTransaction
	applyResult  *transactiondomain.PaymentTransaction
	applyChanged bool
	applied      []transactiondomain.StatusUpdate
	nextID       int64
}

func newTransactionStub() *transactionStub {
	return &transactionStub{
		byKey:        map[string]*transactiondomain.PaymentTransaction{},
		cycleCharged: map[int64]bool{},
	}
}

func (s *transactionStub) Create(ctx context.Context, req transactiondomain.CreateRequest) (*transactiondomain.PaymentTransaction, error) {
	if req.IdempotencyKey != nil {
		if winner, exists := s.byKey[*req.IdempotencyKey]; exists {
			return winner, transactiondomain.ErrDuplicateCharge
		}
	}
	s.nextID++
	s.created = append(s.created, req)
	tx := &transactiondomain.PaymentTransaction{
		ID:              s.nextID,
		MerchantID:      req.MerchantID,
		CustomerID:      req.CustomerID,
		SubscriptionID:  req.SubscriptionID,
		Provider:        req.Provider.String(),
		ProviderOrderID: req.ProviderOrderID,
		AmountCents:     req.AmountCents,
		Currency:        req.Currency,
		Status:          req.Status,
	}
	if req.IdempotencyKey != nil {
		s.byKey[*req.IdempotencyKey] = tx
	}
	return tx, nil
}

func (s *transactionStub) HasTransactionForCycle(ctx context.Context, subscriptionID int64, periodEnd time.Time) (bool, error) {
	return s.cycleCharged[subscriptionID], nil
}

func (s *transactionStub) ListUnsettled(ctx context.Context, window time.Duration, limit int) ([]transactiondomain.PaymentTransaction, error) {
	return s.unsettled, nil
}

func (s *transactionStub) ApplyProviderStatus(ctx context.Context, update transactiondomain.StatusUpdate) (*transactiondomain.PaymentTransaction, bool, error) {
	s.applied = append(s.applied, update)
	return s.applyResult, s.applyChanged, nil
}

type integrationStub struct {
	integrationdomain.Service

	adapter    *chargeAdapter
	adapterErr error
	used       []provider.Provider
}

func (s *integrationStub) NewAdapter(ctx context.Context, merchantID int64, prov provider.Provider) (paymentdomain.Adapter, error) {
	if s.adapterErr != nil {
		return nil, s.adapterErr
	}
	return s.adapter, nil
}

func (s *integrationStub) MarkUsed(ctx context.Context, merchantID int64, prov provider.Provider) error {
	s.used = append(s.used, prov)
	return nil
}

type customerStub struct {
	customerdomain.Service
}

func (s *customerStub) Get(ctx context.Context, merchantID, customerID int64) (*customerdomain.Customer, error) {
	return nil, nil
}

type catalogStub struct {
	catalogdomain.Service
}

func (s *catalogStub) FindOffer(ctx context.Context, merchantID, offerID int64) (*catalogdomain.Offer, error) {
	return nil, nil
}

type consentStub struct {
	openfinancedomain.Service
}

func (s *consentStub) ListDue(ctx context.Context, now time.Time, limit int) ([]openfinancedomain.OpenFinanceConsent, error) {
	return nil, nil
}

type deliveryStub struct {
	deliverydomain.Service
}

func (s *deliveryStub) SweepStuck(ctx context.Context, limit int) (int, int, error) {
	return 0, 0, nil
}

type eventStub struct {
	eventsdomain.Service

	emitted []eventsdomain.EmitRequest
}

func (s *eventStub) Emit(ctx context.Context, req eventsdomain.EmitRequest) {
	s.emitted = append(s.emitted, req)
}

func (s *eventStub) types() []string {
	var out []string
	for _, e := range s.emitted {
		out = append(out, e.EventType)
	}
	return out
}

func (s *eventStub) has(eventType string) bool {
	for _, e := range s.emitted {
		if e.EventType == eventType {
			return true
		}
	}
	return false
}

type engineHarness struct {
	engine        *Engine
	clock         *clock.FakeClock
	subscriptions *subscriptionStub
	transactions  *transactionStub
	integrations  *integrationStub
	adapter       *chargeAdapter
	events        *eventStub
}

func newEngineHarness(t *testing.T) *engineHarness {
	t.Helper()

	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	adapter := &chargeAdapter{prov: provider.Pagarme}
	subs := newSubscriptionStub()
	txs := newTransactionStub()
	integrations := &integrationStub{adapter: adapter}
	events := &eventStub{}

	engine := &Engine{
		log:           zap.NewNop(),
		clock:         fakeClock,
		flags:         config.StaticRenewalFlags(config.DefaultRenewalFlags()),
		subscriptions: subs,
		transactions:  txs,
		integrations:  integrations,
		customers:     &customerStub{},
		catalog:       &catalogStub{},
		consents:      &consentStub{},
		deliveries:    &deliveryStub{},
		events:        events,
	}
	return &engineHarness{
		engine:        engine,
		clock:         fakeClock,
		subscriptions: subs,
		transactions:  txs,
		integrations:  integrations,
		adapter:       adapter,
		events:        events,
	}
}

func (h *engineHarness) addDueSubscription(id int64) *subscriptiondomain.CustomerSubscription {
	now := h.clock.Now()
	sub := &subscriptiondomain.CustomerSubscription{
		ID:                 id,
		MerchantID:         1,
		CustomerID:         100 + id,
		OfferID:            200 + id,
		Provider:           provider.Pagarme.String(),
		Status:             subscriptiondomain.StatusActive,
		PriceCents:         9900,
		Currency:           "BRL",
		IntervalUnit:       "month",
		IntervalCount:      1,
		CurrentPeriodStart: now.AddDate(0, -1, 0),
		CurrentPeriodEnd:   now.Add(-time.Hour),
	}
	h.subscriptions.subs[id] = sub
	h.subscriptions.linkages[id] = subscriptiondomain.ProviderLinkage{
		Pagarme: &subscriptiondomain.PagarmeLinkage{CustomerID: "cus_1", CardID: "card_1"},
	}
	return sub
}

func TestDailyRenewalChargesAndAdvances(t *testing.T) {
	h := newEngineHarness(t)
	sub := h.addDueSubscription(42)

	summary, err := h.engine.RunDailyRenewal(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if h.adapter.calls() != 1 {
		t.Fatalf("expected 1 provider charge, got %d", h.adapter.calls())
	}
	counters := summary.PerStyle[StylePagarmePrepaid]
	if counters.Queued != 1 || counters.Failed != 0 {
		t.Fatalf("expected queued=1 failed=0, got %+v", counters)
	}
	if len(h.subscriptions.advanced) != 1 || h.subscriptions.advanced[0] != sub.ID {
		t.Fatalf("expected period advance for %d, got %v", sub.ID, h.subscriptions.advanced)
	}
	if !h.events.has(eventsdomain.EventSubscriptionBilled) {
		t.Fatalf("expected subscription_billed event, got %v", h.events.types())
	}

	wantKey := fmt.Sprintf("ren-%d-%d", sub.ID, sub.CurrentPeriodEnd.Unix())
	if got := h.adapter.charges[0].IdempotencyKey; got != wantKey {
		t.Fatalf("expected idempotency key %q, got %q", wantKey, got)
	}
	if len(h.transactions.created) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(h.transactions.created))
	}
	if status := h.transactions.created[0].Status; status != transactiondomain.StatusSucceeded {
		t.Fatalf("expected SUCCEEDED transaction, got %s", status)
	}
}

func TestRenewalIdempotencyKeyStableAcrossRuns(t *testing.T) {
	h := newEngineHarness(t)
	h.addDueSubscription(42)

	if _, err := h.engine.RunDailyRenewal(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := h.engine.RunDailyRenewal(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if h.adapter.calls() != 2 {
		t.Fatalf("expected 2 dispatches, got %d", h.adapter.calls())
	}
	// Same subscription, same period, same key: the provider deduplicates.
	if h.adapter.charges[0].IdempotencyKey != h.adapter.charges[1].IdempotencyKey {
		t.Fatal("idempotency key must be stable for one billing period")
	}
	// The ledger kept a single row for the period.
	if len(h.transactions.created) != 1 {
		t.Fatalf("expected 1 transaction row, got %d", len(h.transactions.created))
	}
}

func TestRenewalCycleGuardSkipsChargedPeriod(t *testing.T) {
	h := newEngineHarness(t)
	sub := h.addDueSubscription(42)
	h.transactions.cycleCharged[sub.ID] = true

	summary, err := h.engine.RunDailyRenewal(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if h.adapter.calls() != 0 {
		t.Fatalf("expected zero provider calls, got %d", h.adapter.calls())
	}
	counters := summary.PerStyle[StylePagarmePrepaid]
	if counters.Queued != 0 || counters.Failed != 0 {
		t.Fatalf("expected a quiet skip, got %+v", counters)
	}
}

func TestRenewalMissingPrereqsFlagsWithoutProviderCall(t *testing.T) {
	h := newEngineHarness(t)
	sub := h.addDueSubscription(42)
	h.subscriptions.prereqErrs[sub.ID] = subscriptiondomain.ErrInvalidDocument

	summary, err := h.engine.RunDailyRenewal(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if h.adapter.calls() != 0 {
		t.Fatalf("failed prerequisites must mean zero provider calls, got %d", h.adapter.calls())
	}
	if reason, ok := h.subscriptions.flagged[sub.ID]; !ok || reason == "" {
		t.Fatal("expected the subscription flagged for attention")
	}
	if !h.events.has(eventsdomain.EventRenewalFlagged) {
		t.Fatalf("expected renewal_flagged event, got %v", h.events.types())
	}
	counters := summary.PerStyle[StylePagarmePrepaid]
	if counters.Queued != 0 || counters.Failed != 1 {
		t.Fatalf("expected queued=0 failed=1, got %+v", counters)
	}
}

func TestRenewalAlreadyFlaggedIsQuietSkip(t *testing.T) {
	h := newEngineHarness(t)
	sub := h.addDueSubscription(42)
	sub.NeedsAttention = true

	summary, err := h.engine.RunDailyRenewal(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if h.adapter.calls() != 0 {
		t.Fatalf("expected zero provider calls, got %d", h.adapter.calls())
	}
	counters := summary.PerStyle[StylePagarmePrepaid]
	if counters.Failed != 0 {
		t.Fatalf("an already flagged row is not a new failure, got %+v", counters)
	}
}

func TestRenewalDefinitiveDeclineMarksPastDue(t *testing.T) {
	h := newEngineHarness(t)
	sub := h.addDueSubscription(42)
	h.adapter.chargeErr = paymentdomain.NewProviderError(
		paymentdomain.ErrPaymentDeclined, "card_declined", "insufficient funds")

	summary, err := h.engine.RunDailyRenewal(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	counters := summary.PerStyle[StylePagarmePrepaid]
	if counters.Queued != 0 || counters.Failed != 1 {
		t.Fatalf("expected queued=0 failed=1, got %+v", counters)
	}
	if len(h.subscriptions.pastDue) != 1 || h.subscriptions.pastDue[0] != sub.ID {
		t.Fatalf("expected past due mark for %d, got %v", sub.ID, h.subscriptions.pastDue)
	}
	if len(h.transactions.created) != 1 || h.transactions.created[0].Status != transactiondomain.StatusFailed {
		t.Fatalf("expected a FAILED ledger row, got %+v", h.transactions.created)
	}
	if !h.events.has(eventsdomain.EventSubscriptionPastDue) {
		t.Fatalf("expected subscription_past_due event, got %v", h.events.types())
	}
	if len(h.subscriptions.advanced) != 0 {
		t.Fatal("a declined renewal must not advance the period")
	}
	if reason, ok := h.subscriptions.flagged[sub.ID]; !ok || reason == "" {
		t.Fatal("a definitive decline must park the subscription for an operator")
	}
}

func TestRenewalDeclineBlocksNextRun(t *testing.T) {
	h := newEngineHarness(t)
	sub := h.addDueSubscription(42)
	h.adapter.chargeErr = paymentdomain.NewProviderError(
		paymentdomain.ErrPaymentDeclined, "card_declined", "insufficient funds")

	if _, err := h.engine.RunDailyRenewal(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if h.adapter.calls() != 1 {
		t.Fatalf("expected 1 charge attempt, got %d", h.adapter.calls())
	}

	h.clock.Advance(24 * time.Hour)
	summary, err := h.engine.RunDailyRenewal(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	// The subscription is still past due and still listed, but the attention
	// flag set at decline time keeps the doomed card from being charged again.
	if h.adapter.calls() != 1 {
		t.Fatalf("a declined subscription must wait for an operator, got %d charges", h.adapter.calls())
	}
	counters := summary.PerStyle[StylePagarmePrepaid]
	if counters.Queued != 0 || counters.Failed != 0 {
		t.Fatalf("the flagged skip is quiet, got %+v", counters)
	}
	if reason := h.subscriptions.flagged[sub.ID]; reason == "" {
		t.Fatal("expected the decline reason recorded on the flag")
	}
}

func TestRenewalTransientErrorLeavesInFlight(t *testing.T) {
	h := newEngineHarness(t)
	sub := h.addDueSubscription(42)
	h.adapter.chargeErr = paymentdomain.NewProviderError(
		paymentdomain.ErrProviderUnavailable, "timeout", "gateway timeout")

	summary, err := h.engine.RunDailyRenewal(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	counters := summary.PerStyle[StylePagarmePrepaid]
	if counters.Failed != 1 {
		t.Fatalf("expected failed=1, got %+v", counters)
	}
	// The unknown outcome is parked as PROCESSING with no provider order; the
	// reconciliation sweep owns it from here.
	if len(h.transactions.created) != 1 {
		t.Fatalf("expected 1 in-flight row, got %d", len(h.transactions.created))
	}
	created := h.transactions.created[0]
	if created.Status != transactiondomain.StatusProcessing || created.ProviderOrderID != nil {
		t.Fatalf("expected orderless PROCESSING row, got %+v", created)
	}
	if len(h.subscriptions.pastDue) != 0 {
		t.Fatal("a transient failure must not mark past due")
	}
	if _, flagged := h.subscriptions.flagged[sub.ID]; flagged {
		t.Fatal("a transient failure must not flag the subscription")
	}
}

func TestRenewalDuplicateRequestCountsQueued(t *testing.T) {
	h := newEngineHarness(t)
	h.addDueSubscription(42)
	h.adapter.chargeErr = paymentdomain.ErrDuplicateRequest

	summary, err := h.engine.RunDailyRenewal(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	counters := summary.PerStyle[StylePagarmePrepaid]
	if counters.Queued != 1 || counters.Failed != 0 {
		t.Fatalf("provider-side dedupe is a success, got %+v", counters)
	}
	if len(h.transactions.created) != 0 {
		t.Fatal("the earlier dispatch owns the ledger row")
	}
}

func TestRenewalNativeNeverDispatched(t *testing.T) {
	h := newEngineHarness(t)
	sub := h.addDueSubscription(42)
	sub.IsNative = true

	summary, err := h.engine.RunDailyRenewal(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if h.adapter.calls() != 0 {
		t.Fatalf("native subscriptions are observe-only, got %d calls", h.adapter.calls())
	}
	counters := summary.PerStyle[StylePagarmePrepaid]
	if counters.Queued != 0 {
		t.Fatalf("expected queued=0, got %+v", counters)
	}
}

func TestRenewalFlagGatingSkipsStyle(t *testing.T) {
	h := newEngineHarness(t)
	h.addDueSubscription(42)
	flags := config.DefaultRenewalFlags()
	flags.PagarmePrepaid = false
	h.engine.flags.Set(flags)

	summary, err := h.engine.RunDailyRenewal(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if h.adapter.calls() != 0 {
		t.Fatalf("disabled style must not dispatch, got %d calls", h.adapter.calls())
	}
	if _, present := summary.PerStyle[StylePagarmePrepaid]; present {
		t.Fatal("disabled style must not appear in the summary")
	}
}

func TestHourlyObserveCountsNative(t *testing.T) {
	h := newEngineHarness(t)
	h.subscriptions.nativeDue = 3

	summary, err := h.engine.RunHourlyObserve(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	counters := summary.PerStyle[StyleObserveNative]
	if counters.Queued != 3 || counters.Failed != 0 {
		t.Fatalf("expected queued=3, got %+v", counters)
	}
	if h.adapter.calls() != 0 {
		t.Fatal("the observe pass never charges")
	}
}

func TestHourlyObserveReconcilesUnsettled(t *testing.T) {
	h := newEngineHarness(t)
	sub := h.addDueSubscription(42)
	subID := sub.ID
	orderID := "or_sweep"
	h.transactions.unsettled = []transactiondomain.PaymentTransaction{{
		ID:              7,
		MerchantID:      1,
		SubscriptionID:  &subID,
		Provider:        provider.Pagarme.String(),
		ProviderOrderID: &orderID,
		Status:          transactiondomain.StatusProcessing,
	}}
	h.adapter.orderStatus = paymentdomain.OrderPaid
	h.transactions.applyResult = &transactiondomain.PaymentTransaction{
		ID:             7,
		SubscriptionID: &subID,
		Status:         transactiondomain.StatusSucceeded,
	}
	h.transactions.applyChanged = true

	summary, err := h.engine.RunHourlyObserve(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(h.transactions.applied) != 1 || h.transactions.applied[0].Status != transactiondomain.StatusSucceeded {
		t.Fatalf("expected one SUCCEEDED apply, got %+v", h.transactions.applied)
	}
	if len(h.subscriptions.activated) != 1 || h.subscriptions.activated[0] != subID {
		t.Fatalf("expected activation for %d, got %v", subID, h.subscriptions.activated)
	}
	if len(h.subscriptions.advanced) != 1 {
		t.Fatalf("expected the late verdict to advance the period, got %v", h.subscriptions.advanced)
	}
	counters := summary.PerStyle[StyleReconciliation]
	if counters.Queued != 1 {
		t.Fatalf("expected 1 reconciled row, got %+v", counters)
	}
}

func TestHourlyObserveSkipsOrderlessRows(t *testing.T) {
	h := newEngineHarness(t)
	subID := int64(42)
	h.transactions.unsettled = []transactiondomain.PaymentTransaction{{
		ID:             8,
		MerchantID:     1,
		SubscriptionID: &subID,
		Provider:       provider.Pagarme.String(),
		Status:         transactiondomain.StatusProcessing,
	}}

	summary, err := h.engine.RunHourlyObserve(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(h.transactions.applied) != 0 {
		t.Fatal("rows without a provider order cannot be polled")
	}
	counters := summary.PerStyle[StyleReconciliation]
	if counters.Failed != 0 {
		t.Fatalf("an orderless row is not an error, got %+v", counters)
	}
}

func TestRenewalAdapterBuildFailureCountsFailed(t *testing.T) {
	h := newEngineHarness(t)
	h.addDueSubscription(42)
	h.integrations.adapterErr = errors.New("integration_inactive")

	summary, err := h.engine.RunDailyRenewal(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	counters := summary.PerStyle[StylePagarmePrepaid]
	if counters.Queued != 0 || counters.Failed != 1 {
		t.Fatalf("expected queued=0 failed=1, got %+v", counters)
	}
}
