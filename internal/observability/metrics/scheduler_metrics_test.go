package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	paymentdomain "github.com/clinicware/payrail/internal/payment/domain"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if !matchLabels(metric, labels) {
				continue
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	got := map[string]string{}
	for _, pair := range metric.GetLabel() {
		got[pair.GetName()] = pair.GetValue()
	}
	for name, value := range labels {
		if got[name] != value {
			return false
		}
	}
	return true
}

func TestSchedulerMetricsCountersAndLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newSchedulerMetrics(reg, Config{ServiceName: "payrail", Environment: "test"})

	m.IncJobRun("daily-billing-renewal")
	m.IncJobRun("daily-billing-renewal")
	m.ObserveJobDuration("daily-billing-renewal", 250*time.Millisecond)
	m.IncJobError("daily-billing-renewal", paymentdomain.ErrProviderUnavailable)
	m.IncRenewalError(RenewalStagePrepaid, paymentdomain.ErrPaymentDeclined)
	m.AddBatchProcessed("daily-billing-renewal", "pagarmePrepaid", 3)

	require.Equal(t, 2.0, gatherCounter(t, reg, "payrail_scheduler_job_runs_total",
		map[string]string{"job": "daily-billing-renewal"}))
	require.Equal(t, 1.0, gatherCounter(t, reg, "payrail_scheduler_job_errors_total",
		map[string]string{"job": "daily-billing-renewal", "reason": SchedulerJobReasonProviderUnavailable}))
	require.Equal(t, 1.0, gatherCounter(t, reg, "payrail_renewal_error_total",
		map[string]string{"stage": RenewalStagePrepaid, "error_type": SchedulerErrorTypeProvider}))
	require.Equal(t, 3.0, gatherCounter(t, reg, "payrail_scheduler_batch_processed_total",
		map[string]string{"job": "daily-billing-renewal", "resource": "pagarmePrepaid"}))
}

func TestClassifySchedulerErrorType(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, SchedulerErrorTypeDeadlineExceeded},
		{"provider unavailable", paymentdomain.ErrProviderUnavailable, SchedulerErrorTypeProvider},
		{"wrapped provider error", paymentdomain.NewProviderError(paymentdomain.ErrProviderUnavailable, "504", "gateway timeout"), SchedulerErrorTypeProvider},
		{"pg lock timeout", &pgconn.PgError{Code: "55P03"}, SchedulerErrorTypeDB},
		{"business rule", errors.New("subscription_needs_attention"), SchedulerErrorTypeBusinessRule},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ClassifySchedulerErrorType(tc.err))
		})
	}
}

func TestClassifySchedulerJobReason(t *testing.T) {
	require.Equal(t, SchedulerJobReasonDeadlineExceeded, ClassifySchedulerJobReason(context.DeadlineExceeded))
	require.Equal(t, SchedulerJobReasonPaymentDeclined, ClassifySchedulerJobReason(paymentdomain.ErrPaymentDeclined))
	require.Equal(t, SchedulerJobReasonUniqueViolation, ClassifySchedulerJobReason(&pgconn.PgError{Code: "23505"}))
	require.Equal(t, SchedulerJobReasonUnknown, ClassifySchedulerJobReason(errors.New("anything else")))
}

func TestIsSchedulerErrorRetryable(t *testing.T) {
	require.True(t, IsSchedulerErrorRetryable(paymentdomain.ErrProviderUnavailable))
	require.True(t, IsSchedulerErrorRetryable(context.DeadlineExceeded))
	require.False(t, IsSchedulerErrorRetryable(paymentdomain.ErrPaymentDeclined))
	require.False(t, IsSchedulerErrorRetryable(nil))
}
