package webhook

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	eventsdomain "github.com/clinicware/payrail/internal/events/domain"
	integrationdomain "github.com/clinicware/payrail/internal/integration/domain"
	openfinancedomain "github.com/clinicware/payrail/internal/openfinance/domain"
	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
	subscriptiondomain "github.com/clinicware/payrail/internal/subscription/domain"
	transactiondomain "github.com/clinicware/payrail/internal/transaction/domain"
	"go.uber.org/zap"
)

// webhookAdapter answers VerifyWebhook/ParseWebhook with canned results.
type webhookAdapter struct {
	prov      provider.Provider
	verifyErr error
	event     *paymentdomain.WebhookEvent
	parseErr  error
}

func (a *webhookAdapter) Provider() provider.Provider { return a.prov }

func (a *webhookAdapter) CreateCustomer(ctx context.Context, profile paymentdomain.CustomerProfile) (string, error) {
	return "", nil
}

func (a *webhookAdapter) TokenizeCard(ctx context.Context, customerRef string, card paymentdomain.CardDetails) (*paymentdomain.CardToken, error) {
	return nil, nil
}

func (a *webhookAdapter) CreateCharge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	return nil, nil
}

func (a *webhookAdapter) CreateSubscriptionPlan(ctx context.Context, req paymentdomain.SubscriptionPlanRequest) (string, error) {
	return "", nil
}

func (a *webhookAdapter) GetOrder(ctx context.Context, providerOrderID string) (*paymentdomain.OrderSnapshot, error) {
	return nil, nil
}

func (a *webhookAdapter) Refund(ctx context.Context, providerOrderID string, amountCents int64) (*paymentdomain.RefundResult, error) {
	return nil, nil
}

func (a *webhookAdapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	return a.verifyErr
}

func (a *webhookAdapter) ParseWebhook(ctx context.Context, payload []byte) (*paymentdomain.WebhookEvent, error) {
	if a.parseErr != nil {
		return nil, a.parseErr
	}
	return a.event, nil
}

type integrationStub struct {
	integrationdomain.Service

	adapter paymentdomain.Adapter
}

func (s *integrationStub) NewAdapter(ctx context.Context, merchantID int64, prov provider.Provider) (paymentdomain.Adapter, error) {
	return s.adapter, nil
}

type transactionStub struct {
	transactiondomain.Service

	applyResult  *transactiondomain.PaymentTransaction
	applyChanged bool
	applied      []transactiondomain.StatusUpdate
}

func (s *transactionStub) ApplyProviderStatus(ctx context.Context, update transactiondomain.StatusUpdate) (*transactiondomain.PaymentTransaction, bool, error) {
	s.applied = append(s.applied, update)
	return s.applyResult, s.applyChanged, nil
}

type subscriptionStub struct {
	subscriptiondomain.Service

	byProviderSub map[string]*subscriptiondomain.CustomerSubscription
	byID          map[int64]*subscriptiondomain.CustomerSubscription
	activated     []int64
	advanced      []int64
	pastDue       []int64
}

func newSubscriptionStub() *subscriptionStub {
	return &subscriptionStub{
		byProviderSub: map[string]*subscriptiondomain.CustomerSubscription{},
		byID:          map[int64]*subscriptiondomain.CustomerSubscription{},
	}
}

func (s *subscriptionStub) FindByID(ctx context.Context, id int64) (*subscriptiondomain.CustomerSubscription, error) {
	return s.byID[id], nil
}

func (s *subscriptionStub) FindByProviderSub(ctx context.Context, prov provider.Provider, providerSubID string) (*subscriptiondomain.CustomerSubscription, error) {
	return s.byProviderSub[providerSubID], nil
}

func (s *subscriptionStub) ActivateOnPayment(ctx context.Context, id int64) error {
	s.activated = append(s.activated, id)
	return nil
}

func (s *subscriptionStub) AdvancePeriod(ctx context.Context, id int64, expected time.Time) (bool, error) {
	s.advanced = append(s.advanced, id)
	return true, nil
}

func (s *subscriptionStub) MarkPastDue(ctx context.Context, id int64) error {
	s.pastDue = append(s.pastDue, id)
	return nil
}

type consentStub struct {
	openfinancedomain.Service

	revoked []string
}

func (s *consentStub) RevokeByConsentID(ctx context.Context, consentID string) error {
	s.revoked = append(s.revoked, consentID)
	return nil
}

type eventStub struct {
	eventsdomain.Service

	emitted []eventsdomain.EmitRequest
}

func (s *eventStub) Emit(ctx context.Context, req eventsdomain.EmitRequest) {
	s.emitted = append(s.emitted, req)
}

type webhookHarness struct {
	svc           *Service
	adapter       *webhookAdapter
	transactions  *transactionStub
	subscriptions *subscriptionStub
	consents      *consentStub
	events        *eventStub
}

func newWebhookHarness(t *testing.T) *webhookHarness {
	t.Helper()

	adapter := &webhookAdapter{prov: provider.Pagarme}
	txs := &transactionStub{}
	subs := newSubscriptionStub()
	consents := &consentStub{}
	events := &eventStub{}

	svc := &Service{
		log:           zap.NewNop(),
		integrations:  &integrationStub{adapter: adapter},
		transactions:  txs,
		subscriptions: subs,
		consents:      consents,
		events:        events,
	}
	return &webhookHarness{
		svc:           svc,
		adapter:       adapter,
		transactions:  txs,
		subscriptions: subs,
		consents:      consents,
		events:        events,
	}
}

func TestIngestRejectsBadSignature(t *testing.T) {
	h := newWebhookHarness(t)
	h.adapter.verifyErr = errors.New("digest mismatch")

	_, err := h.svc.Ingest(context.Background(), 1, provider.Pagarme, []byte(`{}`), http.Header{})
	if !errors.Is(err, paymentdomain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if len(h.transactions.applied) != 0 {
		t.Fatal("a rejected webhook must not touch the ledger")
	}
}

func TestIngestIgnoredEventTypeAcks(t *testing.T) {
	h := newWebhookHarness(t)
	h.adapter.parseErr = paymentdomain.ErrEventIgnored

	result, err := h.svc.Ingest(context.Background(), 1, provider.Pagarme, []byte(`{}`), http.Header{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.Ignored {
		t.Fatal("uninteresting event types must be acknowledged as ignored")
	}
}

func TestIngestUnknownOrderIsNoOp(t *testing.T) {
	h := newWebhookHarness(t)
	h.adapter.event = &paymentdomain.WebhookEvent{
		Provider:        provider.Pagarme,
		ProviderOrderID: "or_unknown",
		Type:            paymentdomain.EventTypePaymentSucceeded,
		Status:          paymentdomain.OrderPaid,
	}
	// ApplyProviderStatus answers (nil, false): no matching local order.

	result, err := h.svc.Ingest(context.Background(), 1, provider.Pagarme, []byte(`{}`), http.Header{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.Ignored {
		t.Fatal("unknown orders must be acknowledged as ignored")
	}
	if len(h.events.emitted) != 0 {
		t.Fatal("no-op ingests must not emit events")
	}
}

func TestIngestPaidOrderSettlesSubscription(t *testing.T) {
	h := newWebhookHarness(t)
	subID := int64(42)
	sub := &subscriptiondomain.CustomerSubscription{
		ID:               subID,
		MerchantID:       1,
		CustomerID:       7,
		Status:           subscriptiondomain.StatusActive,
		CurrentPeriodEnd: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	h.subscriptions.byID[subID] = sub
	h.adapter.event = &paymentdomain.WebhookEvent{
		Provider:        provider.Pagarme,
		ProviderOrderID: "or_1",
		Type:            paymentdomain.EventTypePaymentSucceeded,
		Status:          paymentdomain.OrderPaid,
		OccurredAt:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	h.transactions.applyResult = &transactiondomain.PaymentTransaction{
		ID:             9,
		MerchantID:     1,
		CustomerID:     7,
		SubscriptionID: &subID,
		Status:         transactiondomain.StatusSucceeded,
	}
	h.transactions.applyChanged = true

	result, err := h.svc.Ingest(context.Background(), 1, provider.Pagarme, []byte(`{}`), http.Header{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.Changed || result.TransactionID == nil || *result.TransactionID != 9 {
		t.Fatalf("expected changed result for tx 9, got %+v", result)
	}
	if len(h.transactions.applied) != 1 || h.transactions.applied[0].Status != transactiondomain.StatusSucceeded {
		t.Fatalf("expected a SUCCEEDED apply, got %+v", h.transactions.applied)
	}
	if h.transactions.applied[0].PaidAt == nil {
		t.Fatal("paid webhooks must carry the paid_at timestamp")
	}
	if len(h.subscriptions.activated) != 1 || len(h.subscriptions.advanced) != 1 {
		t.Fatalf("expected activation and period advance, got activated=%v advanced=%v",
			h.subscriptions.activated, h.subscriptions.advanced)
	}
	if len(h.events.emitted) != 1 || h.events.emitted[0].EventType != eventsdomain.EventSubscriptionBilled {
		t.Fatalf("expected subscription_billed event, got %+v", h.events.emitted)
	}
}

func TestIngestFirstChargePaidActivatesWithoutAdvance(t *testing.T) {
	h := newWebhookHarness(t)
	subID := int64(42)
	h.subscriptions.byID[subID] = &subscriptiondomain.CustomerSubscription{
		ID:               subID,
		MerchantID:       1,
		CustomerID:       7,
		Status:           subscriptiondomain.StatusPending,
		CurrentPeriodEnd: time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC),
	}
	h.adapter.event = &paymentdomain.WebhookEvent{
		Provider:        provider.Pagarme,
		ProviderOrderID: "or_pix_1",
		Type:            paymentdomain.EventTypePaymentSucceeded,
		Status:          paymentdomain.OrderPaid,
		OccurredAt:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	h.transactions.applyResult = &transactiondomain.PaymentTransaction{
		ID:             9,
		MerchantID:     1,
		CustomerID:     7,
		SubscriptionID: &subID,
		Status:         transactiondomain.StatusSucceeded,
	}
	h.transactions.applyChanged = true

	if _, err := h.svc.Ingest(context.Background(), 1, provider.Pagarme, []byte(`{}`), http.Header{}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(h.subscriptions.activated) != 1 || h.subscriptions.activated[0] != subID {
		t.Fatalf("an asynchronously settled first charge must activate, got %v", h.subscriptions.activated)
	}
	// The first payment pays for the period opened at checkout.
	if len(h.subscriptions.advanced) != 0 {
		t.Fatalf("a first charge must not advance the period, got %v", h.subscriptions.advanced)
	}
}

func TestIngestFailedOrderMarksPastDue(t *testing.T) {
	h := newWebhookHarness(t)
	subID := int64(42)
	h.adapter.event = &paymentdomain.WebhookEvent{
		Provider:        provider.Pagarme,
		ProviderOrderID: "or_1",
		Type:            paymentdomain.EventTypePaymentFailed,
		Status:          paymentdomain.OrderFailed,
	}
	h.transactions.applyResult = &transactiondomain.PaymentTransaction{
		ID:             9,
		MerchantID:     1,
		CustomerID:     7,
		SubscriptionID: &subID,
		Status:         transactiondomain.StatusFailed,
	}
	h.transactions.applyChanged = true

	if _, err := h.svc.Ingest(context.Background(), 1, provider.Pagarme, []byte(`{}`), http.Header{}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(h.subscriptions.pastDue) != 1 || h.subscriptions.pastDue[0] != subID {
		t.Fatalf("expected past due mark for %d, got %v", subID, h.subscriptions.pastDue)
	}
	if len(h.events.emitted) != 1 || h.events.emitted[0].EventType != eventsdomain.EventSubscriptionPastDue {
		t.Fatalf("expected subscription_past_due event, got %+v", h.events.emitted)
	}
}

func TestIngestReplayedWebhookIsNoOp(t *testing.T) {
	h := newWebhookHarness(t)
	subID := int64(42)
	h.adapter.event = &paymentdomain.WebhookEvent{
		Provider:        provider.Pagarme,
		ProviderOrderID: "or_1",
		Type:            paymentdomain.EventTypePaymentSucceeded,
		Status:          paymentdomain.OrderPaid,
	}
	h.transactions.applyResult = &transactiondomain.PaymentTransaction{
		ID:             9,
		SubscriptionID: &subID,
		Status:         transactiondomain.StatusSucceeded,
	}
	h.transactions.applyChanged = false

	result, err := h.svc.Ingest(context.Background(), 1, provider.Pagarme, []byte(`{}`), http.Header{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Changed {
		t.Fatal("replay must report changed=false")
	}
	if len(h.subscriptions.activated) != 0 || len(h.subscriptions.advanced) != 0 {
		t.Fatal("replay must not touch the subscription")
	}
	if len(h.events.emitted) != 0 {
		t.Fatal("replay must not emit events")
	}
}

func TestIngestNativeRenewalAdvancesWindow(t *testing.T) {
	h := newWebhookHarness(t)
	sub := &subscriptiondomain.CustomerSubscription{
		ID:               42,
		MerchantID:       1,
		CustomerID:       7,
		IsNative:         true,
		CurrentPeriodEnd: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	h.subscriptions.byProviderSub["sub_stripe_1"] = sub
	h.adapter.event = &paymentdomain.WebhookEvent{
		Provider:               provider.Stripe,
		ProviderSubscriptionID: "sub_stripe_1",
		Type:                   paymentdomain.EventTypeSubscriptionPaid,
		Status:                 paymentdomain.OrderPaid,
		AmountCents:            9900,
	}

	result, err := h.svc.Ingest(context.Background(), 1, provider.Stripe, []byte(`{}`), http.Header{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.Changed {
		t.Fatal("expected the mirror window to advance")
	}
	// Native renewals keep no local order; nothing hits the ledger.
	if len(h.transactions.applied) != 0 {
		t.Fatal("native renewals must not write transactions")
	}
	if len(h.subscriptions.advanced) != 1 || h.subscriptions.advanced[0] != sub.ID {
		t.Fatalf("expected period advance for %d, got %v", sub.ID, h.subscriptions.advanced)
	}
	if len(h.events.emitted) != 1 || h.events.emitted[0].EventType != eventsdomain.EventSubscriptionBilled {
		t.Fatalf("expected subscription_billed event, got %+v", h.events.emitted)
	}
}

func TestIngestNativeRenewalUnknownSubscription(t *testing.T) {
	h := newWebhookHarness(t)
	h.adapter.event = &paymentdomain.WebhookEvent{
		Provider:               provider.Stripe,
		ProviderSubscriptionID: "sub_never_seen",
		Type:                   paymentdomain.EventTypeSubscriptionPaid,
		Status:                 paymentdomain.OrderPaid,
	}

	result, err := h.svc.Ingest(context.Background(), 1, provider.Stripe, []byte(`{}`), http.Header{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.Ignored {
		t.Fatal("unknown native subscriptions must be acknowledged as ignored")
	}
}

func TestIngestConsentRevoked(t *testing.T) {
	h := newWebhookHarness(t)
	h.adapter.event = &paymentdomain.WebhookEvent{
		Provider:        provider.OpenFinance,
		ProviderOrderID: "consent_abc",
		Type:            paymentdomain.EventTypeConsentRevoked,
	}

	result, err := h.svc.Ingest(context.Background(), 1, provider.OpenFinance, []byte(`{}`), http.Header{})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.Changed {
		t.Fatal("expected a changed result")
	}
	if len(h.consents.revoked) != 1 || h.consents.revoked[0] != "consent_abc" {
		t.Fatalf("expected consent_abc revoked, got %v", h.consents.revoked)
	}
	if len(h.events.emitted) != 1 || h.events.emitted[0].EventType != eventsdomain.EventConsentRevoked {
		t.Fatalf("expected consent_revoked event, got %+v", h.events.emitted)
	}
}
