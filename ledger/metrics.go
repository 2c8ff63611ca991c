package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ledger. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Submission outcomes: "accepted", "invalid", "duplicate"
	Submissions *prometheus.CounterVec

	BlocksMined prometheus.Counter
	PoolSize    prometheus.Gauge

	// Time spent verifying one record's endorsement bundle
	VerifyLatency prometheus.Histogram
}

// NewMetrics registers the ledger metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sms_ledger_submissions_total",
			Help: "Record submissions by outcome",
		}, []string{"outcome"}),

		BlocksMined: f.NewCounter(prometheus.CounterOpts{
			Name: "sms_ledger_blocks_mined_total",
			Help: "Blocks appended to the chain, genesis excluded",
		}),

		PoolSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "sms_ledger_pool_records",
			Help: "Records waiting in the pool",
		}),

		VerifyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sms_ledger_verify_duration_seconds",
			Help:    "Duration of a single record verification",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
	}
}

func (m *Metrics) incSubmission(outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) incBlocks() {
	if m != nil {
		m.BlocksMined.Inc()
	}
}

func (m *Metrics) setPool(n int) {
	if m != nil {
		m.PoolSize.Set(float64(n))
	}
}

func (m *Metrics) observeVerify(d time.Duration) {
	if m != nil {
		m.VerifyLatency.Observe(d.Seconds())
	}
}
