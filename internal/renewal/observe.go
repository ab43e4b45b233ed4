package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinicware/payrail/internal/observability/metrics"
	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	subscriptiondomain "github.com/clinicware/payrail/internal/subscription/domain"
	transactiondomain "github.com/clinicware/payrail/internal/transaction/domain"
	"go.uber.org/zap"
)

const (
	// reconcileWindow bounds how far back the sweep re-queries providers.
	// Anything older either settled via webhook or needs an operator.
	reconcileWindow = 72 * time.Hour

	reconcileBatchSize = 200
)

// RunHourlyObserve is the passive pass: count provider-billed subscriptions
// past their window and settle in-flight transactions. It never dispatches a
// charge.
func (e *Engine) RunHourlyObserve(ctx context.Context) (*RunSummary, error) {
	summary := newSummary(hourlyPeriod(e.clock.Now()))
	_, err := e.runJob(ctx, "billing-scheduler", metrics.LockResourceTransactionsStale, 20*time.Minute, func(ctx context.Context) error {
		flags := e.flags.Current()
		if flags.ObserveNative {
			e.observeNative(ctx, summary)
		}
		if flags.Reconciliation {
			e.reconcile(ctx, summary)
		}
		return nil
	})
	return summary, err
}

// observeNative reports native subscriptions whose local window lapsed
// without a provider renewal webhook. The count is a health signal; the
// provider's own engine charges them.
func (e *Engine) observeNative(ctx context.Context, summary *RunSummary) {
	count, err := e.subscriptions.CountNativeDue(ctx, e.clock.Now())
	if err != nil {
		metrics.Scheduler().IncRenewalError(metrics.RenewalStageObserveNative, err)
		summary.addFailed(StyleObserveNative, 1)
		e.log.Error("native due count failed", zap.Error(err))
		return
	}
	summary.addQueued(StyleObserveNative, int(count))
	if count > 0 {
		e.log.Info("native subscriptions awaiting provider renewal", zap.Int64("count", count))
	}
}

// reconcile re-queries providers for every unsettled transaction in the
// window and folds the answer into the ledger. Calls are paced per provider
// so a large backlog does not trip anyone's rate limit.
func (e *Engine) reconcile(ctx context.Context, summary *RunSummary) {
	summary.addQueued(StyleReconciliation, 0)

	pending, err := e.transactions.ListUnsettled(ctx, reconcileWindow, reconcileBatchSize)
	if err != nil {
		metrics.Scheduler().IncRenewalError(metrics.RenewalStageReconcile, err)
		summary.addFailed(StyleReconciliation, 1)
		e.log.Error("unsettled query failed", zap.Error(err))
		return
	}

	adapters := map[string]paymentdomain.Adapter{}
	for i := range pending {
		tx := pending[i]
		if err := e.reconcileOne(ctx, &tx, adapters, summary); err != nil {
			summary.addFailed(StyleReconciliation, 1)
			metrics.Scheduler().IncRenewalError(metrics.RenewalStageReconcile, err)
			e.log.Warn("reconcile item failed",
				zap.Int64("transaction_id", tx.ID),
				zap.Error(err),
			)
		}
		if ctx.Err() != nil {
			return
		}
	}
	metrics.Scheduler().AddBatchProcessed("billing-scheduler", StyleReconciliation, len(pending))
}

func (e *Engine) reconcileOne(ctx context.Context, tx *transactiondomain.PaymentTransaction, adapters map[string]paymentdomain.Adapter, summary *RunSummary) error {
	if tx.ProviderOrderID == nil || *tx.ProviderOrderID == "" {
		return nil
	}
	prov, ok := parseProvider(tx.Provider)
	if !ok {
		return errors.New("unknown provider " + tx.Provider)
	}

	if e.bucket != nil {
		if err := e.bucket.Wait(ctx, "payrail:rl:reconcile:"+string(prov), reconcileRate, reconcileBurst); err != nil {
			return err
		}
	}

	cacheKey := fmt.Sprintf("%d:%s", tx.MerchantID, prov)
	adapter, cached := adapters[cacheKey]
	if !cached {
		var err error
		adapter, err = e.integrations.NewAdapter(ctx, tx.MerchantID, prov)
		if err != nil {
			return err
		}
		adapters[cacheKey] = adapter
	}

	snapshot, err := adapter.GetOrder(ctx, *tx.ProviderOrderID)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrOrderNotFound) {
			// The provider lost or never created the order. Leave the row
			// for the window to expire rather than invent a terminal state.
			e.log.Warn("provider order missing during sweep",
				zap.Int64("transaction_id", tx.ID),
				zap.String("provider_order_id", *tx.ProviderOrderID),
			)
			return nil
		}
		return err
	}

	status := transactiondomain.FromOrderStatus(snapshot.Status)
	updated, changed, err := e.transactions.ApplyProviderStatus(ctx, transactiondomain.StatusUpdate{
		Provider:        prov,
		ProviderOrderID: *tx.ProviderOrderID,
		Status:          status,
		PaidAt:          snapshot.PaidAt,
	})
	if err != nil {
		return err
	}
	if !changed || updated == nil {
		return nil
	}

	summary.addQueued(StyleReconciliation, 1)
	if updated.SubscriptionID != nil {
		e.applySettledOutcome(ctx, *updated.SubscriptionID, status)
	}
	return nil
}

// applySettledOutcome folds a late verdict into the subscription lifecycle,
// mirroring what the webhook path does when the provider answers in time.
func (e *Engine) applySettledOutcome(ctx context.Context, subscriptionID int64, status transactiondomain.PaymentStatus) {
	switch status {
	case transactiondomain.StatusSucceeded:
		sub, err := e.subscriptions.FindByID(ctx, subscriptionID)
		if err != nil || sub == nil {
			e.log.Warn("subscription lookup failed during sweep",
				zap.Int64("subscription_id", subscriptionID),
				zap.Error(err),
			)
			return
		}
		if err := e.subscriptions.ActivateOnPayment(ctx, sub.ID); err != nil &&
			!errors.Is(err, subscriptiondomain.ErrAlreadyCanceled) {
			e.log.Warn("activation during sweep failed",
				zap.Int64("subscription_id", sub.ID),
				zap.Error(err),
			)
		}
		// A settling first charge pays for the period opened at checkout; only
		// a renewal verdict moves the window.
		if sub.Status == subscriptiondomain.StatusActive || sub.Status == subscriptiondomain.StatusPastDue {
			if _, err := e.subscriptions.AdvancePeriod(ctx, sub.ID, sub.CurrentPeriodEnd); err != nil {
				e.log.Warn("period advance during sweep failed",
					zap.Int64("subscription_id", sub.ID),
					zap.Error(err),
				)
			}
		}
	case transactiondomain.StatusFailed, transactiondomain.StatusExpired:
		if err := e.subscriptions.MarkPastDue(ctx, subscriptionID); err != nil &&
			!errors.Is(err, subscriptiondomain.ErrAlreadyCanceled) {
			e.log.Warn("past due mark during sweep failed",
				zap.Int64("subscription_id", subscriptionID),
				zap.Error(err),
			)
		}
	}
}
