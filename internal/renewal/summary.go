package renewal

// Renewal styles. Each style is one dispatch strategy with its own feature
// flag and its own queued/failed counters in the run summary.
const (
	StylePagarmePrepaid = "pagarmePrepaid"
	StyleAppmax         = "appmax"
	StyleOpenFinance    = "openFinanceRecurring"
	StyleObserveNative  = "observeNative"
	StyleReconciliation = "reconciliation"
	StyleDeliveries     = "stuckDeliveries"
)

type StyleCounters struct {
	Queued int `json:"queued"`
	Failed int `json:"failed"`
}

// RunSummary is what every job endpoint returns. One summary per run, one
// counter pair per style touched by the run.
type RunSummary struct {
	Period   string                   `json:"period"`
	PerStyle map[string]StyleCounters `json:"perStyle"`
}

func newSummary(period string) *RunSummary {
	return &RunSummary{
		Period:   period,
		PerStyle: map[string]StyleCounters{},
	}
}

func (s *RunSummary) addQueued(style string, n int) {
	counters := s.PerStyle[style]
	counters.Queued += n
	s.PerStyle[style] = counters
}

func (s *RunSummary) addFailed(style string, n int) {
	counters := s.PerStyle[style]
	counters.Failed += n
	s.PerStyle[style] = counters
}
