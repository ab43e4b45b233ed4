// Package webhook ingests provider webhooks: authenticate, parse, apply the
// status to the transaction ledger, and sync the subscription lifecycle.
// Unknown orders and uninteresting event types are acknowledged as no-ops so
// providers stop retrying.
package webhook

import (
	"context"
	"errors"
	"net/http"
	"time"

	eventsdomain "github.com/clinicware/payrail/internal/events/domain"
	integrationdomain "github.com/clinicware/payrail/internal/integration/domain"
	openfinancedomain "github.com/clinicware/payrail/internal/openfinance/domain"
	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
	subscriptiondomain "github.com/clinicware/payrail/internal/subscription/domain"
	transactiondomain "github.com/clinicware/payrail/internal/transaction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Integrations  integrationdomain.Service
	Transactions  transactiondomain.Service
	Subscriptions subscriptiondomain.Service
	Consents      openfinancedomain.Service
	Events        eventsdomain.Service
}

type Service struct {
	log           *zap.Logger
	integrations  integrationdomain.Service
	transactions  transactiondomain.Service
	subscriptions subscriptiondomain.Service
	consents      openfinancedomain.Service
	events        eventsdomain.Service
}

func New(p Params) *Service {
	return &Service{
		log:           p.Log.Named("payment.webhook"),
		integrations:  p.Integrations,
		transactions:  p.Transactions,
		subscriptions: p.Subscriptions,
		consents:      p.Consents,
		events:        p.Events,
	}
}

// Result tells the HTTP layer what happened. Ignored results still answer
// 200 so the provider does not retry.
type Result struct {
	EventType     string `json:"event_type,omitempty"`
	Ignored       bool   `json:"ignored"`
	TransactionID *int64 `json:"transaction_id,omitempty"`
	Changed       bool   `json:"changed"`
}

// Ingest processes one inbound webhook for a merchant's provider
// integration. Signature failures return ErrInvalidSignature; everything
// past authentication is absorbed into a no-op rather than bounced back to
// the provider.
func (s *Service) Ingest(ctx context.Context, merchantID int64, prov provider.Provider, payload []byte, headers http.Header) (*Result, error) {
	adapter, err := s.integrations.NewAdapter(ctx, merchantID, prov)
	if err != nil {
		return nil, err
	}

	if err := adapter.VerifyWebhook(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected",
			zap.Int64("merchant_id", merchantID),
			zap.String("provider", prov.String()),
			zap.Error(err),
		)
		return nil, paymentdomain.ErrInvalidSignature
	}

	event, err := adapter.ParseWebhook(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return &Result{Ignored: true}, nil
		}
		return nil, err
	}

	switch event.Type {
	case paymentdomain.EventTypeConsentRevoked:
		return s.applyConsentRevoked(ctx, merchantID, event)
	case paymentdomain.EventTypeSubscriptionPaid:
		if event.ProviderSubscriptionID != "" {
			return s.applyNativeRenewal(ctx, merchantID, event)
		}
	}
	return s.applyOrderStatus(ctx, merchantID, event)
}

// applyOrderStatus upserts the transaction keyed by (provider, order id).
// Orders we never created locally are acknowledged without writing anything.
func (s *Service) applyOrderStatus(ctx context.Context, merchantID int64, event *paymentdomain.WebhookEvent) (*Result, error) {
	status := transactiondomain.FromOrderStatus(event.Status)

	var paidAt *time.Time
	if event.Status == paymentdomain.OrderPaid {
		occurred := event.OccurredAt
		paidAt = &occurred
	}

	tx, changed, err := s.transactions.ApplyProviderStatus(ctx, transactiondomain.StatusUpdate{
		Provider:        event.Provider,
		ProviderOrderID: event.ProviderOrderID,
		Status:          status,
		RawWebhook:      event.RawPayload,
		PaidAt:          paidAt,
	})
	if err != nil {
		return nil, err
	}
	if tx == nil {
		s.log.Debug("webhook for unknown order ignored",
			zap.Int64("merchant_id", merchantID),
			zap.String("provider", event.Provider.String()),
			zap.String("provider_order_id", event.ProviderOrderID),
		)
		return &Result{EventType: event.Type, Ignored: true}, nil
	}

	result := &Result{EventType: event.Type, TransactionID: &tx.ID, Changed: changed}
	if !changed {
		return result, nil
	}

	if tx.SubscriptionID != nil {
		s.syncSubscription(ctx, *tx.SubscriptionID, status)
	}
	s.emitForStatus(ctx, tx, event, status)
	return result, nil
}

// syncSubscription folds a settled renewal outcome into the lifecycle. A
// charge that went out but only settled via webhook still needs its period
// advanced; the compare-and-set inside AdvancePeriod makes a repeat delivery
// harmless.
func (s *Service) syncSubscription(ctx context.Context, subscriptionID int64, status transactiondomain.PaymentStatus) {
	switch status {
	case transactiondomain.StatusSucceeded:
		sub, err := s.subscriptions.FindByID(ctx, subscriptionID)
		if err != nil || sub == nil {
			s.log.Warn("subscription lookup failed on paid webhook",
				zap.Int64("subscription_id", subscriptionID),
				zap.Error(err),
			)
			return
		}
		if err := s.subscriptions.ActivateOnPayment(ctx, sub.ID); err != nil &&
			!errors.Is(err, subscriptiondomain.ErrAlreadyCanceled) {
			s.log.Warn("activation on paid webhook failed",
				zap.Int64("subscription_id", sub.ID),
				zap.Error(err),
			)
		}
		// A first charge settling for a PENDING or TRIAL subscription pays for
		// the period opened at checkout; only a renewal that settled late moves
		// the window.
		if sub.Status == subscriptiondomain.StatusActive || sub.Status == subscriptiondomain.StatusPastDue {
			if _, err := s.subscriptions.AdvancePeriod(ctx, sub.ID, sub.CurrentPeriodEnd); err != nil {
				s.log.Warn("period advance on paid webhook failed",
					zap.Int64("subscription_id", sub.ID),
					zap.Error(err),
				)
			}
		}
	case transactiondomain.StatusFailed, transactiondomain.StatusExpired:
		if err := s.subscriptions.MarkPastDue(ctx, subscriptionID); err != nil &&
			!errors.Is(err, subscriptiondomain.ErrAlreadyCanceled) {
			s.log.Warn("past due mark on failed webhook failed",
				zap.Int64("subscription_id", subscriptionID),
				zap.Error(err),
			)
		}
	}
}

// applyNativeRenewal mirrors a provider-billed renewal. There is no local
// order to upsert; the provider already charged, we only move the local
// window forward.
func (s *Service) applyNativeRenewal(ctx context.Context, merchantID int64, event *paymentdomain.WebhookEvent) (*Result, error) {
	sub, err := s.subscriptions.FindByProviderSub(ctx, event.Provider, event.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		s.log.Debug("native renewal for unknown subscription ignored",
			zap.Int64("merchant_id", merchantID),
			zap.String("provider", event.Provider.String()),
			zap.String("provider_subscription_id", event.ProviderSubscriptionID),
		)
		return &Result{EventType: event.Type, Ignored: true}, nil
	}

	if err := s.subscriptions.ActivateOnPayment(ctx, sub.ID); err != nil &&
		!errors.Is(err, subscriptiondomain.ErrAlreadyCanceled) {
		return nil, err
	}
	advanced, err := s.subscriptions.AdvancePeriod(ctx, sub.ID, sub.CurrentPeriodEnd)
	if err != nil {
		return nil, err
	}

	if advanced {
		customerID := sub.CustomerID
		s.events.Emit(ctx, eventsdomain.EmitRequest{
			MerchantID: sub.MerchantID,
			CustomerID: &customerID,
			EventType:  eventsdomain.EventSubscriptionBilled,
			Metadata: map[string]any{
				"subscription_id": sub.ID,
				"provider":        event.Provider.String(),
				"amount_cents":    event.AmountCents,
				"native":          true,
			},
		})
	}
	return &Result{EventType: event.Type, Changed: advanced}, nil
}

func (s *Service) applyConsentRevoked(ctx context.Context, merchantID int64, event *paymentdomain.WebhookEvent) (*Result, error) {
	if err := s.consents.RevokeByConsentID(ctx, event.ProviderOrderID); err != nil {
		return nil, err
	}
	s.events.Emit(ctx, eventsdomain.EmitRequest{
		MerchantID: merchantID,
		EventType:  eventsdomain.EventConsentRevoked,
		Metadata: map[string]any{
			"provider":   event.Provider.String(),
			"consent_id": event.ProviderOrderID,
		},
	})
	return &Result{EventType: event.Type, Changed: true}, nil
}

func (s *Service) emitForStatus(ctx context.Context, tx *transactiondomain.PaymentTransaction, event *paymentdomain.WebhookEvent, status transactiondomain.PaymentStatus) {
	customerID := tx.CustomerID
	metadata := map[string]any{
		"transaction_id": tx.ID,
		"provider":       event.Provider.String(),
		"status":         string(status),
	}

	switch status {
	case transactiondomain.StatusSucceeded:
		if tx.SubscriptionID != nil {
			metadata["subscription_id"] = *tx.SubscriptionID
			s.events.Emit(ctx, eventsdomain.EmitRequest{
				MerchantID: tx.MerchantID,
				CustomerID: &customerID,
				EventType:  eventsdomain.EventSubscriptionBilled,
				Metadata:   metadata,
			})
		}
	case transactiondomain.StatusFailed, transactiondomain.StatusExpired:
		if tx.SubscriptionID != nil {
			metadata["subscription_id"] = *tx.SubscriptionID
			s.events.Emit(ctx, eventsdomain.EmitRequest{
				MerchantID: tx.MerchantID,
				CustomerID: &customerID,
				EventType:  eventsdomain.EventSubscriptionPastDue,
				Metadata:   metadata,
			})
		}
	case transactiondomain.StatusRefunded, transactiondomain.StatusPartiallyRefunded:
		s.events.Emit(ctx, eventsdomain.EmitRequest{
			MerchantID: tx.MerchantID,
			CustomerID: &customerID,
			EventType:  eventsdomain.EventPaymentRefunded,
			Metadata:   metadata,
		})
	}
}
