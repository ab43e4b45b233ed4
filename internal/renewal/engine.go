// Package renewal is the subscription renewal engine. It decides which
// subscriptions are due, dispatches charges through the provider adapters,
// advances billing periods on success and settles in-flight work through the
// reconciliation sweep. All jobs are idempotent: locks keep concurrent
// triggers from overlapping and idempotency keys keep retried dispatches
// from double charging.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	catalogdomain "github.com/clinicware/payrail/internal/catalog/domain"
	"github.com/clinicware/payrail/internal/clock"
	"github.com/clinicware/payrail/internal/config"
	customerdomain "github.com/clinicware/payrail/internal/customer/domain"
	deliverydomain "github.com/clinicware/payrail/internal/delivery/domain"
	eventsdomain "github.com/clinicware/payrail/internal/events/domain"
	integrationdomain "github.com/clinicware/payrail/internal/integration/domain"
	"github.com/clinicware/payrail/internal/notify/email"
	"github.com/clinicware/payrail/internal/observability/metrics"
	openfinancedomain "github.com/clinicware/payrail/internal/openfinance/domain"
	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/clinicware/payrail/internal/provider"
	"github.com/clinicware/payrail/internal/ratelimit"
	subscriptiondomain "github.com/clinicware/payrail/internal/subscription/domain"
	transactiondomain "github.com/clinicware/payrail/internal/transaction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	// dueBatchSize bounds one ListDue page. Anything still due after a run
	// is picked up by the next trigger.
	dueBatchSize = 150

	// subscriptionLockTTL bounds how long one renewal may pin a
	// subscription before an expired lease lets another runner in.
	subscriptionLockTTL = 2 * time.Minute

	jobLockTTL = 30 * time.Minute

	// reconcileRate paces GetOrder calls per provider during the sweep.
	reconcileRate  = 5.0
	reconcileBurst = 5
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Config        config.Config
	Clock         clock.Clock
	Flags         *config.RenewalFlagsHolder
	Subscriptions subscriptiondomain.Service
	Transactions  transactiondomain.Service
	Integrations  integrationdomain.Service
	Customers     customerdomain.Service
	Catalog       catalogdomain.Service
	Consents      openfinancedomain.Service
	Deliveries    deliverydomain.Service
	Events        eventsdomain.Service
	Locker        *ratelimit.Locker      `optional:"true"`
	Bucket        *ratelimit.TokenBucket `optional:"true"`
	Mail          *email.Sender          `optional:"true"`
	Metrics       *metrics.Metrics       `optional:"true"`
}

type Engine struct {
	log           *zap.Logger
	cfg           config.Config
	clock         clock.Clock
	flags         *config.RenewalFlagsHolder
	subscriptions subscriptiondomain.Service
	transactions  transactiondomain.Service
	integrations  integrationdomain.Service
	customers     customerdomain.Service
	catalog       catalogdomain.Service
	consents      openfinancedomain.Service
	deliveries    deliverydomain.Service
	events        eventsdomain.Service
	locker        *ratelimit.Locker
	bucket        *ratelimit.TokenBucket
	mail          *email.Sender
	metrics       *metrics.Metrics
}

func New(p Params) *Engine {
	return &Engine{
		log:           p.Log.Named("renewal.engine"),
		cfg:           p.Config,
		clock:         p.Clock,
		flags:         p.Flags,
		subscriptions: p.Subscriptions,
		transactions:  p.Transactions,
		integrations:  p.Integrations,
		customers:     p.Customers,
		catalog:       p.Catalog,
		consents:      p.Consents,
		deliveries:    p.Deliveries,
		events:        p.Events,
		locker:        p.Locker,
		bucket:        p.Bucket,
		mail:          p.Mail,
		metrics:       p.Metrics,
	}
}

// runJob wraps one scheduler job with its lock, timeout and metrics. Returns
// false when another runner already holds the job lock.
func (e *Engine) runJob(ctx context.Context, job, lockResource string, timeout time.Duration, fn func(ctx context.Context) error) (bool, error) {
	sched := metrics.Scheduler()
	sched.IncJobRun(job)
	start := time.Now()
	defer func() {
		sched.ObserveJobDuration(job, time.Since(start))
	}()

	run := func(ctx context.Context) error {
		jobCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		err := fn(jobCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				sched.IncJobTimeout(job)
			}
			sched.IncJobError(job, err)
		}
		return err
	}

	if e.locker == nil {
		return true, run(ctx)
	}

	acquired, err := e.locker.WithLock(ctx, jobLockKey(lockResource), jobLockTTL, run)
	if err != nil && !acquired {
		return false, err
	}
	if !acquired {
		e.log.Info("job lock held elsewhere, skipping run", zap.String("job", job))
	}
	return acquired, err
}

func jobLockKey(resource string) string {
	return "payrail:lock:job:" + resource
}

func subscriptionLockKey(subscriptionID int64) string {
	return fmt.Sprintf("payrail:lock:subscription:%d", subscriptionID)
}

// renewalIdempotencyKey ties a dispatch to one subscription and one billing
// period. A retried run for the same period reuses the key and the provider
// deduplicates the charge.
func renewalIdempotencyKey(subscriptionID int64, periodEnd time.Time) string {
	return fmt.Sprintf("ren-%d-%d", subscriptionID, periodEnd.Unix())
}

func consentIdempotencyKey(consentID int64, executionAt time.Time) string {
	return fmt.Sprintf("ofr-%d-%d", consentID, executionAt.Unix())
}

func hourlyPeriod(now time.Time) string { return now.UTC().Format("2006-01-02T15") }
func dailyPeriod(now time.Time) string  { return now.UTC().Format("2006-01-02") }

func (e *Engine) recordQueued(ctx context.Context, style string) {
	if e.metrics != nil {
		e.metrics.RecordRenewalQueued(ctx, style)
	}
}

// definitiveDecline reports a provider rejection that retrying cannot fix.
func definitiveDecline(err error) bool {
	return errors.Is(err, paymentdomain.ErrPaymentDeclined)
}

func parseProvider(raw string) (provider.Provider, bool) {
	return provider.Parse(raw)
}
