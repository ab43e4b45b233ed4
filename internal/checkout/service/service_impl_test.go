package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	catalogdomain "github.com/clinicware/payrail/internal/catalog/domain"
	"github.com/clinicware/payrail/internal/checkout/domain"
	"github.com/clinicware/payrail/internal/clock"
	customerdomain "github.com/clinicware/payrail/internal/customer/domain"
	eventsdomain "github.com/clinicware/payrail/internal/events/domain"
	integrationdomain "github.com/clinicware/payrail/internal/integration/domain"
	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
	routingdomain "github.com/clinicware/payrail/internal/routing/domain"
	subscriptiondomain "github.com/clinicware/payrail/internal/subscription/domain"
	transactiondomain "github.com/clinicware/payrail/internal/transaction/domain"
	"go.uber.org/zap"
)

// checkoutAdapter answers provider calls with canned results. orderStatus
// controls how the charge comes back: PAID for synchronous card captures,
// PENDING for pix and boleto.
type checkoutAdapter struct {
	prov        provider.Provider
	orderStatus paymentdomain.OrderStatus
	charges     []paymentdomain.ChargeRequest
}

func (a *checkoutAdapter) Provider() provider.Provider { return a.prov }

func (a *checkoutAdapter) CreateCustomer(ctx context.Context, profile paymentdomain.CustomerProfile) (string, error) {
	return "cus_co", nil
}

func (a *checkoutAdapter) TokenizeCard(ctx context.Context, customerRef string, card paymentdomain.CardDetails) (*paymentdomain.CardToken, error) {
	return &paymentdomain.CardToken{ProviderCardID: "card_co", Brand: "visa", Last4: "4242"}, nil
}

func (a *checkoutAdapter) CreateCharge(ctx context.Context, req paymentdomain.ChargeRequest) (*paymentdomain.ChargeResult, error) {
	a.charges = append(a.charges, req)
	return &paymentdomain.ChargeResult{
		ProviderOrderID: "or_co_1",
		Status:          a.orderStatus,
	}, nil
}

func (a *checkoutAdapter) CreateSubscriptionPlan(ctx context.Context, req paymentdomain.SubscriptionPlanRequest) (string, error) {
	return "plan_co", nil
}

func (a *checkoutAdapter) GetOrder(ctx context.Context, providerOrderID string) (*paymentdomain.OrderSnapshot, error) {
	return &paymentdomain.OrderSnapshot{ProviderOrderID: providerOrderID, Status: a.orderStatus}, nil
}

func (a *checkoutAdapter) Refund(ctx context.Context, providerOrderID string, amountCents int64) (*paymentdomain.RefundResult, error) {
	return &paymentdomain.RefundResult{AmountCents: amountCents, Status: paymentdomain.OrderRefunded}, nil
}

func (a *checkoutAdapter) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	return nil
}

func (a *checkoutAdapter) ParseWebhook(ctx context.Context, payload []byte) (*paymentdomain.WebhookEvent, error) {
	return nil, paymentdomain.ErrEventIgnored
}

type catalogStub struct {
	catalogdomain.Service

	offer *catalogdomain.Offer
}

func (s *catalogStub) FindOffer(ctx context.Context, merchantID, offerID int64) (*catalogdomain.Offer, error) {
	return s.offer, nil
}

type customerStub struct {
	customerdomain.Service

	customer *customerdomain.Customer
	saved    []customerdomain.SavePaymentMethodRequest
}

func (s *customerStub) Resolve(ctx context.Context, merchantID int64, profile customerdomain.Profile) (*customerdomain.Customer, error) {
	return s.customer, nil
}

func (s *customerStub) SavePaymentMethod(ctx context.Context, req customerdomain.SavePaymentMethodRequest) (*customerdomain.CustomerPaymentMethod, error) {
	s.saved = append(s.saved, req)
	return &customerdomain.CustomerPaymentMethod{ID: int64(len(s.saved))}, nil
}

func (s *customerStub) ListPaymentMethods(ctx context.Context, customerID int64) ([]customerdomain.CustomerPaymentMethod, error) {
	return nil, nil
}

type routingStub struct {
	routingdomain.Service
}

func (s *routingStub) SelectProvider(ctx context.Context, req routingdomain.SelectionRequest) routingdomain.Decision {
	return routingdomain.Decision{Provider: provider.Pagarme, Tier: routingdomain.TierCountryDefault}
}

type integrationStub struct {
	integrationdomain.Service

	adapter paymentdomain.Adapter
}

func (s *integrationStub) NewAdapter(ctx context.Context, merchantID int64, prov provider.Provider) (paymentdomain.Adapter, error) {
	return s.adapter, nil
}

func (s *integrationStub) MarkUsed(ctx context.Context, merchantID int64, prov provider.Provider) error {
	return nil
}

func (s *integrationStub) RecordError(ctx context.Context, merchantID int64, prov provider.Provider, message string) error {
	return nil
}

type transactionStub struct {
	transactiondomain.Service

	created []transactiondomain.CreateRequest
	nextID  int64
}

func (s *transactionStub) Create(ctx context.Context, req transactiondomain.CreateRequest) (*transactiondomain.PaymentTransaction, error) {
	s.nextID++
	s.created = append(s.created, req)
	return &transactiondomain.PaymentTransaction{
		ID:             s.nextID,
		MerchantID:     req.MerchantID,
		CustomerID:     req.CustomerID,
		SubscriptionID: req.SubscriptionID,
		Status:         req.Status,
	}, nil
}

type subscriptionStub struct {
	subscriptiondomain.Service

	created   []subscriptiondomain.CreateRequest
	activated []int64
	nextID    int64
}

func (s *subscriptionStub) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (*subscriptiondomain.CustomerSubscription, error) {
	s.nextID++
	s.created = append(s.created, req)
	return &subscriptiondomain.CustomerSubscription{
		ID:         s.nextID + 4000,
		MerchantID: req.MerchantID,
		CustomerID: req.CustomerID,
		OfferID:    req.OfferID,
		Provider:   req.Provider.String(),
		Status:     subscriptiondomain.StatusPending,
	}, nil
}

func (s *subscriptionStub) ActivateOnPayment(ctx context.Context, id int64) error {
	s.activated = append(s.activated, id)
	return nil
}

type eventStub struct {
	eventsdomain.Service

	emitted []eventsdomain.EmitRequest
}

func (s *eventStub) Emit(ctx context.Context, req eventsdomain.EmitRequest) {
	s.emitted = append(s.emitted, req)
}

type checkoutHarness struct {
	svc           *Service
	adapter       *checkoutAdapter
	customers     *customerStub
	transactions  *transactionStub
	subscriptions *subscriptionStub
	events        *eventStub
}

func newCheckoutHarness(t *testing.T, offer *catalogdomain.Offer) *checkoutHarness {
	t.Helper()

	adapter := &checkoutAdapter{prov: provider.Pagarme, orderStatus: paymentdomain.OrderPaid}
	customers := &customerStub{customer: &customerdomain.Customer{
		ID:         7,
		MerchantID: 1,
		Name:       "Ana Souza",
		Email:      "ana@example.com",
		Document:   "12345678901",
		Phone:      "11987654321",
		Country:    "BR",
	}}
	txs := &transactionStub{}
	subs := &subscriptionStub{}
	events := &eventStub{}

	svc := &Service{
		log:           zap.NewNop(),
		catalog:       &catalogStub{offer: offer},
		customers:     customers,
		routing:       &routingStub{},
		integrations:  &integrationStub{adapter: adapter},
		transactions:  txs,
		subscriptions: subs,
		events:        events,
		clock:         clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
	}
	return &checkoutHarness{
		svc:           svc,
		adapter:       adapter,
		customers:     customers,
		transactions:  txs,
		subscriptions: subs,
		events:        events,
	}
}

func subscriptionOffer() *catalogdomain.Offer {
	return &catalogdomain.Offer{
		ID:              3,
		MerchantID:      1,
		ProductID:       2,
		Code:            "plano-mensal",
		Name:            "Plano Mensal",
		PriceCents:      9900,
		Currency:        "BRL",
		IsSubscription:  true,
		IntervalUnit:    catalogdomain.IntervalMonth,
		IntervalCount:   1,
		MaxInstallments: 1,
		IsActive:        true,
	}
}

func TestCheckoutCardSuccessActivatesSubscription(t *testing.T) {
	h := newCheckoutHarness(t, subscriptionOffer())

	result, err := h.svc.Checkout(context.Background(), domainRequest(provider.MethodCard))
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if result.SubscriptionID == nil {
		t.Fatal("a subscription offer must open a subscription")
	}
	if result.Status != string(transactiondomain.StatusSucceeded) {
		t.Fatalf("expected SUCCEEDED, got %s", result.Status)
	}
	if len(h.subscriptions.activated) != 1 || h.subscriptions.activated[0] != *result.SubscriptionID {
		t.Fatalf("a synchronously captured first charge must activate, got %v", h.subscriptions.activated)
	}
	if len(h.transactions.created) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(h.transactions.created))
	}
	created := h.transactions.created[0]
	if created.SubscriptionID == nil || *created.SubscriptionID != *result.SubscriptionID {
		t.Fatalf("the ledger row must carry the subscription link, got %+v", created.SubscriptionID)
	}
	if len(h.customers.saved) != 1 {
		t.Fatalf("the tokenized card must be vaulted, got %d saves", len(h.customers.saved))
	}
}

func TestCheckoutAsyncPixLinksSubscriptionToTransaction(t *testing.T) {
	h := newCheckoutHarness(t, subscriptionOffer())
	h.adapter.orderStatus = paymentdomain.OrderPending

	req := domainRequest(provider.MethodPix)
	req.Card = nil

	result, err := h.svc.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if result.SubscriptionID == nil {
		t.Fatal("a pending pix charge still opens the subscription")
	}
	// The subscription waits for the paid webhook; activation here would skip
	// the settlement.
	if len(h.subscriptions.activated) != 0 {
		t.Fatalf("a pending charge must not activate, got %v", h.subscriptions.activated)
	}
	created := h.transactions.created[0]
	if created.Status != transactiondomain.StatusPending {
		t.Fatalf("expected a PENDING ledger row, got %s", created.Status)
	}
	// The webhook settles by (provider, order id) and follows this link to
	// activate the subscription; without it the row would settle and the
	// subscription would stay PENDING forever.
	if created.SubscriptionID == nil || *created.SubscriptionID != *result.SubscriptionID {
		t.Fatalf("the pending ledger row must carry the subscription link, got %+v", created.SubscriptionID)
	}
}

func TestCheckoutNonSubscriptionOfferSkipsSubscription(t *testing.T) {
	offer := subscriptionOffer()
	offer.IsSubscription = false
	h := newCheckoutHarness(t, offer)

	result, err := h.svc.Checkout(context.Background(), domainRequest(provider.MethodCard))
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if result.SubscriptionID != nil {
		t.Fatal("a one-off offer must not open a subscription")
	}
	if len(h.subscriptions.created) != 0 {
		t.Fatalf("expected no subscription rows, got %d", len(h.subscriptions.created))
	}
	if h.transactions.created[0].SubscriptionID != nil {
		t.Fatal("a one-off ledger row carries no subscription link")
	}
}

func domainRequest(method provider.Method) domain.Request {
	return domain.Request{
		MerchantID: 1,
		OfferID:    3,
		Country:    "BR",
		Method:     method,
		Customer: customerdomain.Profile{
			Name:     "Ana Souza",
			Email:    "ana@example.com",
			Document: "12345678901",
			Phone:    "11987654321",
			Country:  "BR",
		},
		Card: &paymentdomain.CardDetails{
			Number:   "4111111111111111",
			Holder:   "ANA SOUZA",
			ExpMonth: 12,
			ExpYear:  2030,
			CVV:      "123",
		},
	}
}
