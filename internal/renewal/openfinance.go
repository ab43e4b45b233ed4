package renewal

import (
	"context"
	"errors"
	"time"

	"github.com/clinicware/payrail/internal/observability/metrics"
	openfinancedomain "github.com/clinicware/payrail/internal/openfinance/domain"
	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
	transactiondomain "github.com/clinicware/payrail/internal/transaction/domain"
	"go.uber.org/zap"
)

// RunOpenFinance executes due recurring consents. The schedule advances
// after every attempt, success or failure, so a consent that keeps failing
// produces exactly one attempt per period instead of a retry storm.
func (e *Engine) RunOpenFinance(ctx context.Context) (*RunSummary, error) {
	summary := newSummary(dailyPeriod(e.clock.Now()))
	_, err := e.runJob(ctx, "open-finance-recurring", metrics.LockResourceConsentsDue, 20*time.Minute, func(ctx context.Context) error {
		if !e.flags.Current().OpenFinanceRecurring {
			return nil
		}
		e.runConsents(ctx, summary)
		return nil
	})
	return summary, err
}

func (e *Engine) runConsents(ctx context.Context, summary *RunSummary) {
	summary.addQueued(StyleOpenFinance, 0)

	due, err := e.consents.ListDue(ctx, e.clock.Now(), dueBatchSize)
	if err != nil {
		metrics.Scheduler().IncRenewalError(metrics.RenewalStageOpenFinance, err)
		summary.addFailed(StyleOpenFinance, 1)
		e.log.Error("consent due query failed", zap.Error(err))
		return
	}

	adapters := map[int64]paymentdomain.Adapter{}
	for i := range due {
		consent := due[i]
		queued, err := e.debitConsent(ctx, &consent, adapters)
		if queued {
			summary.addQueued(StyleOpenFinance, 1)
			e.recordQueued(ctx, StyleOpenFinance)
		}
		if err != nil {
			summary.addFailed(StyleOpenFinance, 1)
			metrics.Scheduler().IncRenewalError(metrics.RenewalStageOpenFinance, err)
			e.log.Warn("consent debit failed",
				zap.Int64("consent_id", consent.ID),
				zap.Error(err),
			)
		}
		if ctx.Err() != nil {
			return
		}
	}
	metrics.Scheduler().AddBatchProcessed("open-finance-recurring", StyleOpenFinance, len(due))
}

func (e *Engine) debitConsent(ctx context.Context, consent *openfinancedomain.OpenFinanceConsent, adapters map[int64]paymentdomain.Adapter) (queued bool, err error) {
	// The schedule moves forward no matter how the attempt ends.
	defer func() {
		if advErr := e.consents.AdvanceSchedule(ctx, consent.ID); advErr != nil {
			e.log.Error("consent schedule advance failed",
				zap.Int64("consent_id", consent.ID),
				zap.Error(advErr),
			)
		}
	}()

	adapter, cached := adapters[consent.MerchantID]
	if !cached {
		adapter, err = e.integrations.NewAdapter(ctx, consent.MerchantID, provider.OpenFinance)
		if err != nil {
			return false, err
		}
		adapters[consent.MerchantID] = adapter
	}

	idempotencyKey := consentIdempotencyKey(consent.ID, consent.NextExecutionAt)
	result, chargeErr := adapter.CreateCharge(ctx, paymentdomain.ChargeRequest{
		AmountCents:    consent.AmountCents,
		Currency:       consent.Currency,
		ConsentRef:     consent.ConsentID,
		Method:         provider.MethodOpenFinanceAutomatic,
		Description:    "Recurring Open Finance debit",
		IdempotencyKey: idempotencyKey,
		Metadata:       map[string]string{"consent_link_id": consent.LinkID},
	})
	if chargeErr != nil {
		if errors.Is(chargeErr, paymentdomain.ErrDuplicateRequest) {
			return true, nil
		}
		e.recordConsentOutcome(ctx, consent, idempotencyKey, nil, transactiondomain.StatusFailed)
		if definitiveDecline(chargeErr) && consent.SubscriptionID != nil {
			if err := e.subscriptions.MarkPastDue(ctx, *consent.SubscriptionID); err != nil {
				e.log.Warn("past due mark after consent decline failed",
					zap.Int64("subscription_id", *consent.SubscriptionID),
					zap.Error(err),
				)
			}
		}
		return false, chargeErr
	}

	status := transactiondomain.FromOrderStatus(result.Status)
	e.recordConsentOutcome(ctx, consent, idempotencyKey, result, status)

	if status == transactiondomain.StatusSucceeded && consent.SubscriptionID != nil {
		e.applySettledOutcome(ctx, *consent.SubscriptionID, status)
	}
	return true, nil
}

func (e *Engine) recordConsentOutcome(ctx context.Context, consent *openfinancedomain.OpenFinanceConsent, idempotencyKey string, result *paymentdomain.ChargeResult, status transactiondomain.PaymentStatus) {
	var orderID, chargeID *string
	if result != nil {
		if result.ProviderOrderID != "" {
			id := result.ProviderOrderID
			orderID = &id
		}
		if result.ProviderChargeID != "" {
			id := result.ProviderChargeID
			chargeID = &id
		}
	}

	if _, err := e.transactions.Create(ctx, transactiondomain.CreateRequest{
		MerchantID:        consent.MerchantID,
		CustomerID:        consent.CustomerID,
		SubscriptionID:    consent.SubscriptionID,
		Provider:          provider.OpenFinance,
		ProviderOrderID:   orderID,
		ProviderChargeID:  chargeID,
		AmountCents:       consent.AmountCents,
		Currency:          consent.Currency,
		PaymentMethodType: string(provider.MethodOpenFinanceAutomatic),
		Status:            status,
		IdempotencyKey:    &idempotencyKey,
	}); err != nil && !errors.Is(err, transactiondomain.ErrDuplicateCharge) {
		e.log.Error("recording consent debit failed",
			zap.Int64("consent_id", consent.ID),
			zap.Error(err),
		)
	}
}
