package service

import (
	"context"
	"fmt"
	"strings"

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
	"github.com/oklog/ulid/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Catalog       catalogdomain.Service
	Customers     customerdomain.Service
	Routing       routingdomain.Service
	Integrations  integrationdomain.Service
	Transactions  transactiondomain.Service
	Subscriptions subscriptiondomain.Service
	Events        eventsdomain.Service
	Clock         clock.Clock
}

type Service struct {
	log           *zap.Logger
	catalog       catalogdomain.Service
	customers     customerdomain.Service
	routing       routingdomain.Service
	integrations  integrationdomain.Service
	transactions  transactiondomain.Service
	subscriptions subscriptiondomain.Service
	events        eventsdomain.Service
	clock         clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		log:           p.Log.Named("checkout.service"),
		catalog:       p.Catalog,
		customers:     p.Customers,
		routing:       p.Routing,
		integrations:  p.Integrations,
		transactions:  p.Transactions,
		subscriptions: p.Subscriptions,
		events:        p.Events,
		clock:         p.Clock,
	}
}

func (s *Service) Checkout(ctx context.Context, req domain.Request) (*domain.Result, error) {
	if req.MerchantID == 0 || req.OfferID == 0 {
		return nil, domain.ErrInvalidRequest
	}
	if req.Card == nil && req.SavedPaymentMethodID == nil && req.Method == provider.MethodCard {
		return nil, domain.ErrNoPaymentInput
	}

	offer, err := s.catalog.FindOffer(ctx, req.MerchantID, req.OfferID)
	if err != nil {
		return nil, err
	}
	if offer == nil {
		return nil, catalogdomain.ErrOfferNotFound
	}
	if !offer.IsActive {
		return nil, domain.ErrOfferInactive
	}

	buyer, err := s.customers.Resolve(ctx, req.MerchantID, req.Customer)
	if err != nil {
		return nil, err
	}

	decision := s.routing.SelectProvider(ctx, routingdomain.SelectionRequest{
		MerchantID: req.MerchantID,
		OfferID:    &offer.ID,
		ProductID:  &offer.ProductID,
		Country:    req.Country,
		Method:     req.Method,
	})

	adapter, err := s.integrations.NewAdapter(ctx, req.MerchantID, decision.Provider)
	if err != nil {
		return nil, err
	}

	providerCustomerID, cardToken, err := s.preparePaymentInput(ctx, adapter, buyer, req)
	if err != nil {
		s.recordProviderError(ctx, req.MerchantID, decision.Provider, err)
		return nil, err
	}

	idempotencyKey := "chk-" + ulid.Make().String()
	charge, chargeErr := adapter.CreateCharge(ctx, paymentdomain.ChargeRequest{
		AmountCents:        offer.PriceCents,
		Currency:           offer.Currency,
		ProviderCustomerID: providerCustomerID,
		CardToken:          cardToken,
		Method:             req.Method,
		Installments:       clampInstallments(req.Installments, offer.MaxInstallments),
		Description:        offer.Name,
		IdempotencyKey:     idempotencyKey,
		Metadata: map[string]string{
			"offer_id":    fmt.Sprintf("%d", offer.ID),
			"customer_id": fmt.Sprintf("%d", buyer.ID),
			"document":    buyer.Document,
		},
	})
	if chargeErr != nil {
		s.recordProviderError(ctx, req.MerchantID, decision.Provider, chargeErr)
		return nil, chargeErr
	}
	_ = s.integrations.MarkUsed(ctx, req.MerchantID, decision.Provider)

	status := transactiondomain.FromOrderStatus(charge.Status)
	var orderID *string
	if charge.ProviderOrderID != "" {
		id := charge.ProviderOrderID
		orderID = &id
	}
	var chargeID *string
	if charge.ProviderChargeID != "" {
		id := charge.ProviderChargeID
		chargeID = &id
	}

	// The subscription row exists before the ledger row so a charge settling
	// asynchronously (pix, boleto) carries the link the paid webhook needs to
	// activate it.
	var subscriptionID *int64
	if offer.IsSubscription {
		sub, err := s.openSubscription(ctx, offer, buyer, decision.Provider, providerCustomerID, cardToken, status)
		if err != nil {
			s.log.Error("subscription open failed after charge",
				zap.Int64("merchant_id", req.MerchantID),
				zap.String("provider_order_id", charge.ProviderOrderID),
				zap.Error(err),
			)
		} else {
			subscriptionID = &sub.ID
		}
	}

	tx, err := s.transactions.Create(ctx, transactiondomain.CreateRequest{
		MerchantID:        req.MerchantID,
		CustomerID:        buyer.ID,
		SubscriptionID:    subscriptionID,
		OfferID:           &offer.ID,
		Provider:          decision.Provider,
		ProviderOrderID:   orderID,
		ProviderChargeID:  chargeID,
		AmountCents:       offer.PriceCents,
		Currency:          offer.Currency,
		PaymentMethodType: string(req.Method),
		Status:            status,
		IdempotencyKey:    &idempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	return &domain.Result{
		TransactionID:   tx.ID,
		SubscriptionID:  subscriptionID,
		CustomerID:      buyer.ID,
		Provider:        decision.Provider,
		RoutingTier:     decision.Tier,
		Status:          string(status),
		ProviderOrderID: charge.ProviderOrderID,
	}, nil
}

// preparePaymentInput resolves the provider-side customer and card token,
// tokenizing and vaulting a fresh card when one is supplied.
func (s *Service) preparePaymentInput(
	ctx context.Context,
	adapter paymentdomain.Adapter,
	buyer *customerdomain.Customer,
	req domain.Request,
) (string, string, error) {
	if req.Card == nil && req.SavedPaymentMethodID != nil {
		methods, err := s.customers.ListPaymentMethods(ctx, buyer.ID)
		if err != nil {
			return "", "", err
		}
		for _, method := range methods {
			if method.ID == *req.SavedPaymentMethodID && method.Status == customerdomain.PaymentMethodActive {
				return method.ProviderCustomerID, method.ProviderPaymentMethodID, nil
			}
		}
		return "", "", customerdomain.ErrPaymentMethodMissing
	}

	providerCustomerID, err := adapter.CreateCustomer(ctx, paymentdomain.CustomerProfile{
		Name:     buyer.Name,
		Email:    buyer.Email,
		Document: buyer.Document,
		Phone:    buyer.Phone,
		Country:  buyer.Country,
	})
	if err != nil {
		return "", "", err
	}

	if req.Card == nil {
		// pix, boleto and open finance charge without a card token
		return providerCustomerID, "", nil
	}

	token, err := adapter.TokenizeCard(ctx, providerCustomerID, *req.Card)
	if err != nil {
		return "", "", err
	}

	if _, err := s.customers.SavePaymentMethod(ctx, customerdomain.SavePaymentMethodRequest{
		CustomerID:              buyer.ID,
		Provider:                adapter.Provider(),
		ProviderCustomerID:      providerCustomerID,
		ProviderPaymentMethodID: token.ProviderCardID,
		Brand:                   token.Brand,
		Last4:                   token.Last4,
		ExpMonth:                token.ExpMonth,
		ExpYear:                 token.ExpYear,
		SetDefault:              true,
	}); err != nil {
		s.log.Warn("vault save failed, charge continues",
			zap.Int64("customer_id", buyer.ID),
			zap.Error(err),
		)
	}
	return providerCustomerID, token.ProviderCardID, nil
}

func (s *Service) openSubscription(
	ctx context.Context,
	offer *catalogdomain.Offer,
	buyer *customerdomain.Customer,
	prov provider.Provider,
	providerCustomerID, cardToken string,
	chargeStatus transactiondomain.PaymentStatus,
) (*subscriptiondomain.CustomerSubscription, error) {
	sub, err := s.subscriptions.Create(ctx, subscriptiondomain.CreateRequest{
		MerchantID:    offer.MerchantID,
		CustomerID:    buyer.ID,
		OfferID:       offer.ID,
		Provider:      prov,
		IsNative:      providerIsNative(prov),
		PriceCents:    offer.PriceCents,
		Currency:      offer.Currency,
		IntervalUnit:  offer.IntervalUnit,
		IntervalCount: offer.IntervalCount,
		TrialDays:     offer.TrialDays,
		Linkage:       buildLinkage(prov, providerCustomerID, cardToken),
		StartAt:       s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	if chargeStatus == transactiondomain.StatusSucceeded {
		if err := s.subscriptions.ActivateOnPayment(ctx, sub.ID); err != nil {
			s.log.Warn("activation after first charge failed",
				zap.Int64("subscription_id", sub.ID),
				zap.Error(err),
			)
		}
	}

	customerID := buyer.ID
	s.events.Emit(ctx, eventsdomain.EmitRequest{
		MerchantID: offer.MerchantID,
		CustomerID: &customerID,
		EventType:  eventsdomain.EventSubscriptionCreated,
		Metadata: map[string]any{
			"subscription_id": sub.ID,
			"offer_id":        offer.ID,
			"provider":        prov.String(),
		},
	})
	return sub, nil
}

// providerIsNative marks which providers run their own billing engine.
// Stripe subscriptions auto-renew provider-side; everything else here is
// charged by the scheduler.
func providerIsNative(prov provider.Provider) bool {
	return prov == provider.Stripe
}

func buildLinkage(prov provider.Provider, providerCustomerID, cardToken string) subscriptiondomain.ProviderLinkage {
	switch prov {
	case provider.Pagarme, provider.Krxpay:
		return subscriptiondomain.ProviderLinkage{
			Pagarme: &subscriptiondomain.PagarmeLinkage{
				CustomerID: providerCustomerID,
				CardID:     cardToken,
			},
		}
	case provider.Appmax:
		return subscriptiondomain.ProviderLinkage{
			Appmax: &subscriptiondomain.AppmaxLinkage{CustomerID: providerCustomerID},
		}
	case provider.Stripe:
		return subscriptiondomain.ProviderLinkage{
			Stripe: &subscriptiondomain.StripeLinkage{CustomerID: providerCustomerID},
		}
	default:
		return subscriptiondomain.ProviderLinkage{}
	}
}

func (s *Service) recordProviderError(ctx context.Context, merchantID int64, prov provider.Provider, err error) {
	message := strings.TrimSpace(err.Error())
	if recErr := s.integrations.RecordError(ctx, merchantID, prov, message); recErr != nil {
		s.log.Warn("recording provider error failed",
			zap.Int64("merchant_id", merchantID),
			zap.Error(recErr),
		)
	}
}

func clampInstallments(requested, max int) int {
	if requested <= 0 {
		return 1
	}
	if max > 0 && requested > max {
		return max
	}
	return requested
}
