package renewal

import (
	"context"
	"sync"
	"time"

	"github.com/clinicware/payrail/internal/config"
	"github.com/clinicware/payrail/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	observeInterval    = time.Hour
	deliveriesInterval = 5 * time.Minute

	// dailyRenewalHour is the local hour in São Paulo when the active
	// renewal pass starts. Billing follows the clinics' clock, not UTC.
	dailyRenewalHour = 9
)

// Runner drives the engine on its schedule: observe hourly, renew daily at
// 09:00 São Paulo time, sweep stuck deliveries every five minutes in
// production. Every trigger also exists as an HTTP job endpoint; the locks
// inside the engine make the two paths safe to overlap.
type Runner struct {
	log    *zap.Logger
	cfg    config.Config
	engine *Engine
	loc    *time.Location

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(lc fx.Lifecycle, log *zap.Logger, cfg config.Config, engine *Engine) *Runner {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		// tzdata missing from the image; BRT without DST matches current law.
		loc = time.FixedZone("BRT", -3*60*60)
	}

	r := &Runner{
		log:    log.Named("renewal.runner"),
		cfg:    cfg,
		engine: engine,
		loc:    loc,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			r.start()
			return nil
		},
		OnStop: func(context.Context) error {
			r.stop()
			return nil
		},
	})
	return r
}

func (r *Runner) start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go r.loopInterval(ctx, "billing-scheduler", observeInterval, func(ctx context.Context) (*RunSummary, error) {
		return r.engine.RunHourlyObserve(ctx)
	})

	r.wg.Add(1)
	go r.loopDaily(ctx)

	if r.cfg.IsProduction() {
		r.wg.Add(1)
		go r.loopInterval(ctx, "check-stuck-deliveries", deliveriesInterval, func(ctx context.Context) (*RunSummary, error) {
			return r.engine.RunStuckDeliveries(ctx)
		})
	}
}

func (r *Runner) stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) loopInterval(ctx context.Context, job string, interval time.Duration, run func(ctx context.Context) (*RunSummary, error)) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case scheduled := <-ticker.C:
			metrics.Scheduler().ObserveRunLoopLag(time.Since(scheduled))
			r.runOnce(ctx, job, run)
		}
	}
}

func (r *Runner) loopDaily(ctx context.Context) {
	defer r.wg.Done()

	for {
		next := r.nextDailyRun(time.Now().In(r.loc))
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			metrics.Scheduler().ObserveRunLoopLag(time.Since(next))
			r.runOnce(ctx, "daily-billing-renewal", func(ctx context.Context) (*RunSummary, error) {
				return r.engine.RunDailyRenewal(ctx)
			})
			r.runOnce(ctx, "open-finance-recurring", func(ctx context.Context) (*RunSummary, error) {
				return r.engine.RunOpenFinance(ctx)
			})
		}
	}
}

// nextDailyRun returns the next 09:00 in São Paulo strictly after now.
func (r *Runner) nextDailyRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), dailyRenewalHour, 0, 0, 0, r.loc)
	if !next.After(now) {
		tomorrow := now.AddDate(0, 0, 1)
		next = time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), dailyRenewalHour, 0, 0, 0, r.loc)
	}
	return next
}

func (r *Runner) runOnce(ctx context.Context, job string, run func(ctx context.Context) (*RunSummary, error)) {
	summary, err := run(ctx)
	if err != nil {
		r.log.Error("scheduled job failed", zap.String("job", job), zap.Error(err))
		return
	}
	r.log.Info("scheduled job finished",
		zap.String("job", job),
		zap.String("period", summary.Period),
		zap.Any("per_style", summary.PerStyle),
	)
}
