package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	eventsdomain "github.com/clinicware/payrail/internal/events/domain"
	"github.com/clinicware/payrail/internal/notify/email"
	"github.com/clinicware/payrail/internal/notify/pdf"
	"github.com/clinicware/payrail/internal/observability/metrics"
	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
	subscriptiondomain "github.com/clinicware/payrail/internal/subscription/domain"
	transactiondomain "github.com/clinicware/payrail/internal/transaction/domain"
	"go.uber.org/zap"
)

var styleStages = map[string]string{
	StylePagarmePrepaid: metrics.RenewalStagePrepaid,
	StyleAppmax:         metrics.RenewalStageManual,
	StyleOpenFinance:    metrics.RenewalStageOpenFinance,
}

// RunDailyRenewal charges every due manual-renewal subscription. Styles run
// sequentially; each is gated by its feature flag and keeps its own
// counters. One bad subscription never stops the batch.
func (e *Engine) RunDailyRenewal(ctx context.Context) (*RunSummary, error) {
	summary := newSummary(dailyPeriod(e.clock.Now()))
	_, err := e.runJob(ctx, "daily-billing-renewal", metrics.LockResourceSubscriptionsDue, 25*time.Minute, func(ctx context.Context) error {
		flags := e.flags.Current()
		if flags.PagarmePrepaid {
			e.renewStyle(ctx, summary, StylePagarmePrepaid, []provider.Provider{provider.Pagarme, provider.Krxpay})
		}
		if flags.Appmax {
			e.renewStyle(ctx, summary, StyleAppmax, []provider.Provider{provider.Appmax})
		}
		return nil
	})
	return summary, err
}

func (e *Engine) renewStyle(ctx context.Context, summary *RunSummary, style string, providers []provider.Provider) {
	// Touch the counters even when nothing is due so the summary names every
	// enabled style.
	summary.addQueued(style, 0)

	now := e.clock.Now()
	due, err := e.subscriptions.ListDue(ctx, providers, now, dueBatchSize)
	if err != nil {
		e.log.Error("due query failed", zap.String("style", style), zap.Error(err))
		metrics.Scheduler().IncRenewalError(styleStages[style], err)
		summary.addFailed(style, 1)
		return
	}

	for i := range due {
		sub := due[i]
		queued, err := e.renewOne(ctx, &sub, style)
		if queued {
			summary.addQueued(style, 1)
			e.recordQueued(ctx, style)
		}
		if err != nil {
			summary.addFailed(style, 1)
			metrics.Scheduler().IncRenewalError(styleStages[style], err)
			e.log.Warn("renewal item failed",
				zap.String("style", style),
				zap.Int64("subscription_id", sub.ID),
				zap.Error(err),
			)
		}
		if ctx.Err() != nil {
			return
		}
	}
	metrics.Scheduler().AddBatchProcessed("daily-billing-renewal", style, len(due))
}

// renewOne holds the per-subscription lease while dispatching so a second
// runner working the same batch cannot race this renewal.
func (e *Engine) renewOne(ctx context.Context, sub *subscriptiondomain.CustomerSubscription, style string) (bool, error) {
	if e.locker == nil {
		return e.dispatchRenewal(ctx, sub, style)
	}

	var queued bool
	var dispatchErr error
	acquired, err := e.locker.WithLock(ctx, subscriptionLockKey(sub.ID), subscriptionLockTTL, func(ctx context.Context) error {
		queued, dispatchErr = e.dispatchRenewal(ctx, sub, style)
		return nil
	})
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	return queued, dispatchErr
}

func (e *Engine) dispatchRenewal(ctx context.Context, sub *subscriptiondomain.CustomerSubscription, style string) (bool, error) {
	if err := e.subscriptions.CheckPrerequisites(ctx, sub); err != nil {
		if errors.Is(err, subscriptiondomain.ErrNeedsAttention) {
			// Already parked for an operator; nothing to redo.
			return false, nil
		}
		return false, e.flagAndSkip(ctx, sub, err)
	}

	// Local guard against a second charge inside the same billing cycle,
	// complementing the provider-side idempotency key.
	exists, err := e.transactions.HasTransactionForCycle(ctx, sub.ID, sub.CurrentPeriodEnd)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	prov, ok := parseProvider(sub.Provider)
	if !ok {
		return false, e.flagAndSkip(ctx, sub, errors.New("unknown provider "+sub.Provider))
	}

	adapter, err := e.integrations.NewAdapter(ctx, sub.MerchantID, prov)
	if err != nil {
		return false, err
	}

	linkage, err := e.subscriptions.LinkageOf(sub)
	if err != nil {
		return false, e.flagAndSkip(ctx, sub, err)
	}
	customerRef, cardToken := chargeCredentials(prov, linkage)

	idempotencyKey := renewalIdempotencyKey(sub.ID, sub.CurrentPeriodEnd)
	result, chargeErr := adapter.CreateCharge(ctx, paymentdomain.ChargeRequest{
		AmountCents:        sub.PriceCents,
		Currency:           sub.Currency,
		ProviderCustomerID: customerRef,
		CardToken:          cardToken,
		Method:             provider.MethodCard,
		Installments:       1,
		Description:        "Subscription renewal",
		IdempotencyKey:     idempotencyKey,
		Metadata:           map[string]string{"subscription_id": formatID(sub.ID)},
	})
	if chargeErr != nil {
		if errors.Is(chargeErr, paymentdomain.ErrDuplicateRequest) {
			// The provider already holds this period's charge. The webhook
			// or the sweep will settle it.
			return true, nil
		}
		if definitiveDecline(chargeErr) {
			e.recordDecline(ctx, sub, style, idempotencyKey, chargeErr)
			return false, chargeErr
		}
		// Transient failure: persist the attempt as in-flight so this cycle
		// is not re-dispatched; reconciliation owns it from here.
		e.recordInFlight(ctx, sub, idempotencyKey, chargeErr)
		return false, chargeErr
	}
	_ = e.integrations.MarkUsed(ctx, sub.MerchantID, prov)

	tx, err := e.createRenewalTransaction(ctx, sub, idempotencyKey, result)
	if err != nil {
		return true, err
	}

	if tx.Status == transactiondomain.StatusSucceeded {
		e.settleRenewal(ctx, sub, tx)
	}
	return true, nil
}

// settleRenewal advances the period after a confirmed charge. The
// compare-and-set inside AdvancePeriod lets a racing cancellation win.
func (e *Engine) settleRenewal(ctx context.Context, sub *subscriptiondomain.CustomerSubscription, tx *transactiondomain.PaymentTransaction) {
	advanced, err := e.subscriptions.AdvancePeriod(ctx, sub.ID, sub.CurrentPeriodEnd)
	if err != nil {
		e.log.Error("period advance failed after charge",
			zap.Int64("subscription_id", sub.ID),
			zap.Error(err),
		)
		return
	}
	if !advanced {
		return
	}

	customerID := sub.CustomerID
	e.events.Emit(ctx, eventsdomain.EmitRequest{
		MerchantID: sub.MerchantID,
		CustomerID: &customerID,
		EventType:  eventsdomain.EventSubscriptionBilled,
		Metadata: map[string]any{
			"subscription_id": sub.ID,
			"transaction_id":  tx.ID,
			"amount_cents":    tx.AmountCents,
			"provider":        tx.Provider,
		},
	})
	e.sendReceipt(sub, tx)
}

func (e *Engine) createRenewalTransaction(ctx context.Context, sub *subscriptiondomain.CustomerSubscription, idempotencyKey string, result *paymentdomain.ChargeResult) (*transactiondomain.PaymentTransaction, error) {
	subscriptionID := sub.ID
	offerID := sub.OfferID

	var orderID, chargeID *string
	status := transactiondomain.StatusProcessing
	if result != nil {
		if result.ProviderOrderID != "" {
			id := result.ProviderOrderID
			orderID = &id
		}
		if result.ProviderChargeID != "" {
			id := result.ProviderChargeID
			chargeID = &id
		}
		status = transactiondomain.FromOrderStatus(result.Status)
	}

	tx, err := e.transactions.Create(ctx, transactiondomain.CreateRequest{
		MerchantID:        sub.MerchantID,
		CustomerID:        sub.CustomerID,
		SubscriptionID:    &subscriptionID,
		OfferID:           &offerID,
		Provider:          provider.Provider(sub.Provider),
		ProviderOrderID:   orderID,
		ProviderChargeID:  chargeID,
		AmountCents:       sub.PriceCents,
		Currency:          sub.Currency,
		PaymentMethodType: string(provider.MethodCard),
		Status:            status,
		IdempotencyKey:    &idempotencyKey,
	})
	if err != nil && !errors.Is(err, transactiondomain.ErrDuplicateCharge) {
		return nil, err
	}
	return tx, nil
}

// recordDecline persists the definitive rejection, parks the subscription
// for an operator, and moves it to past due within the same pass. The flag
// keeps the next daily run from re-charging a card the provider already
// refused.
func (e *Engine) recordDecline(ctx context.Context, sub *subscriptiondomain.CustomerSubscription, style, idempotencyKey string, cause error) {
	subscriptionID := sub.ID
	offerID := sub.OfferID
	if _, err := e.transactions.Create(ctx, transactiondomain.CreateRequest{
		MerchantID:        sub.MerchantID,
		CustomerID:        sub.CustomerID,
		SubscriptionID:    &subscriptionID,
		OfferID:           &offerID,
		Provider:          provider.Provider(sub.Provider),
		AmountCents:       sub.PriceCents,
		Currency:          sub.Currency,
		PaymentMethodType: string(provider.MethodCard),
		Status:            transactiondomain.StatusFailed,
		IdempotencyKey:    &idempotencyKey,
	}); err != nil && !errors.Is(err, transactiondomain.ErrDuplicateCharge) {
		e.log.Error("recording declined renewal failed",
			zap.Int64("subscription_id", sub.ID),
			zap.Error(err),
		)
	}

	if err := e.subscriptions.FlagForAttention(ctx, sub.ID, cause.Error()); err != nil {
		e.log.Error("flagging declined subscription failed",
			zap.Int64("subscription_id", sub.ID),
			zap.Error(err),
		)
	}

	if err := e.subscriptions.MarkPastDue(ctx, sub.ID); err != nil &&
		!errors.Is(err, subscriptiondomain.ErrAlreadyCanceled) {
		e.log.Error("past due mark failed",
			zap.Int64("subscription_id", sub.ID),
			zap.Error(err),
		)
	}

	customerID := sub.CustomerID
	e.events.Emit(ctx, eventsdomain.EmitRequest{
		MerchantID: sub.MerchantID,
		CustomerID: &customerID,
		EventType:  eventsdomain.EventSubscriptionPastDue,
		Metadata: map[string]any{
			"subscription_id": sub.ID,
			"style":           style,
			"reason":          cause.Error(),
		},
	})
}

// recordInFlight writes a PROCESSING row for a charge whose outcome is
// unknown (timeout, provider 5xx). The idempotency key blocks a re-dispatch
// for this cycle; webhooks or the sweep deliver the verdict.
func (e *Engine) recordInFlight(ctx context.Context, sub *subscriptiondomain.CustomerSubscription, idempotencyKey string, cause error) {
	subscriptionID := sub.ID
	offerID := sub.OfferID
	if _, err := e.transactions.Create(ctx, transactiondomain.CreateRequest{
		MerchantID:        sub.MerchantID,
		CustomerID:        sub.CustomerID,
		SubscriptionID:    &subscriptionID,
		OfferID:           &offerID,
		Provider:          provider.Provider(sub.Provider),
		AmountCents:       sub.PriceCents,
		Currency:          sub.Currency,
		PaymentMethodType: string(provider.MethodCard),
		Status:            transactiondomain.StatusProcessing,
		IdempotencyKey:    &idempotencyKey,
	}); err != nil && !errors.Is(err, transactiondomain.ErrDuplicateCharge) {
		e.log.Error("recording in-flight renewal failed",
			zap.Int64("subscription_id", sub.ID),
			zap.Error(err),
		)
	}
	e.log.Warn("renewal charge outcome unknown",
		zap.Int64("subscription_id", sub.ID),
		zap.Error(cause),
	)
}

// flagAndSkip parks the subscription and reports it, guaranteeing zero
// provider calls until an operator clears the flag.
func (e *Engine) flagAndSkip(ctx context.Context, sub *subscriptiondomain.CustomerSubscription, cause error) error {
	if err := e.subscriptions.FlagForAttention(ctx, sub.ID, cause.Error()); err != nil {
		e.log.Error("flagging subscription failed",
			zap.Int64("subscription_id", sub.ID),
			zap.Error(err),
		)
	}
	customerID := sub.CustomerID
	e.events.Emit(ctx, eventsdomain.EmitRequest{
		MerchantID: sub.MerchantID,
		CustomerID: &customerID,
		EventType:  eventsdomain.EventRenewalFlagged,
		Metadata: map[string]any{
			"subscription_id": sub.ID,
			"reason":          cause.Error(),
		},
	})
	return cause
}

// chargeCredentials pulls the provider-side references out of the typed
// linkage. Prerequisites were validated before this point.
func chargeCredentials(prov provider.Provider, linkage subscriptiondomain.ProviderLinkage) (customerRef, cardToken string) {
	switch prov {
	case provider.Pagarme, provider.Krxpay:
		if linkage.Pagarme != nil {
			return linkage.Pagarme.CustomerID, linkage.Pagarme.CardID
		}
	case provider.Appmax:
		if linkage.Appmax != nil {
			return linkage.Appmax.CustomerID, ""
		}
	}
	return "", ""
}

func (e *Engine) sendReceipt(sub *subscriptiondomain.CustomerSubscription, tx *transactiondomain.PaymentTransaction) {
	if e.mail == nil || !e.mail.Enabled() {
		return
	}

	subCopy := *sub
	txCopy := *tx
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		buyer, err := e.customers.Get(ctx, subCopy.MerchantID, subCopy.CustomerID)
		if err != nil || buyer == nil || buyer.Email == "" {
			return
		}
		offer, err := e.catalog.FindOffer(ctx, subCopy.MerchantID, subCopy.OfferID)
		description := "Subscription renewal"
		merchantName := e.cfg.AppName
		if err == nil && offer != nil {
			description = offer.Name
		}

		paidAt := e.clock.Now()
		if txCopy.PaidAt != nil {
			paidAt = *txCopy.PaidAt
		}
		attachment, err := pdf.BuildReceipt(pdf.Receipt{
			MerchantName:  merchantName,
			CustomerName:  buyer.Name,
			Description:   description,
			AmountCents:   txCopy.AmountCents,
			Currency:      txCopy.Currency,
			Provider:      txCopy.Provider,
			TransactionID: txCopy.ID,
			PaidAt:        paidAt,
		})
		if err != nil {
			e.log.Warn("receipt render failed", zap.Int64("transaction_id", txCopy.ID), zap.Error(err))
			return
		}

		if err := e.mail.Send(email.Message{
			To:             buyer.Email,
			Subject:        "Payment receipt: " + description,
			Body:           "Your subscription payment was processed. The receipt is attached.",
			AttachmentName: "receipt.pdf",
			Attachment:     attachment,
		}); err != nil {
			e.log.Warn("receipt email failed", zap.Int64("transaction_id", txCopy.ID), zap.Error(err))
		}
	}()
}

func formatID(id int64) string {
	return fmt.Sprintf("%d", id)
}
