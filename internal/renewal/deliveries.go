package renewal

import (
	"context"
	"time"

	"github.com/clinicware/payrail/internal/observability/metrics"
	"go.uber.org/zap"
)

const stuckSweepBatchSize = 100

// RunStuckDeliveries re-triggers outbound webhook deliveries whose scheduled
// retry never ran and terminally fails the ones at the attempt cap.
func (e *Engine) RunStuckDeliveries(ctx context.Context) (*RunSummary, error) {
	summary := newSummary(hourlyPeriod(e.clock.Now()))
	_, err := e.runJob(ctx, "check-stuck-deliveries", metrics.LockResourceDeliveriesStuck, 4*time.Minute, func(ctx context.Context) error {
		summary.addQueued(StyleDeliveries, 0)
		if !e.flags.Current().StuckDeliveries {
			return nil
		}

		retried, failed, err := e.deliveries.SweepStuck(ctx, stuckSweepBatchSize)
		if err != nil {
			metrics.Scheduler().IncRenewalError(metrics.RenewalStageDeliveries, err)
			summary.addFailed(StyleDeliveries, 1)
			return err
		}

		summary.addQueued(StyleDeliveries, retried)
		summary.addFailed(StyleDeliveries, failed)
		if retried > 0 || failed > 0 {
			e.log.Info("stuck delivery sweep finished",
				zap.Int("retried", retried),
				zap.Int("failed", failed),
			)
		}
		return nil
	})
	return summary, err
}
