package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels batches that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels batches aborted by a hard error.
	OutcomeError = "error"
)

// Verdict origins.
const (
	OriginAnalysed = "analysed"
	OriginCached   = "cached"
	OriginReused   = "reused"
)

var (
	batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_triage",
			Name:      "batches_total",
			Help:      "Total number of funnel batches handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	batchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_triage",
			Name:      "batch_seconds",
			Help:      "Funnel batch latency in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
	)

	stageSurvivorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_triage",
			Name:      "stage_survivors_total",
			Help:      "Candidates leaving each funnel stage.",
		},
		[]string{"stage"},
	)

	stageErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_triage",
			Name:      "stage_errors_total",
			Help:      "Errors raised inside funnel stages, partitioned by stage and error kind.",
		},
		[]string{"stage", "kind"},
	)

	verdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_triage",
			Name:      "verdicts_total",
			Help:      "Verdicts returned by the funnel, partitioned by attack flag and origin.",
		},
		[]string{"attack", "origin"},
	)

	indexCases = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_triage",
			Name:      "index_cases",
			Help:      "Cases held by the similarity index.",
		},
	)

	budgetSpendUSD = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_triage",
			Name:      "budget_spend_usd",
			Help:      "Verdict service spend inside the current hourly window.",
		},
	)
)

// Register attaches mirador-triage collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		batchesTotal,
		batchDurationSeconds,
		stageSurvivorsTotal,
		stageErrorsTotal,
		verdictsTotal,
		indexCases,
		budgetSpendUSD,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveBatch records a batch duration and outcome label.
func ObserveBatch(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	batchesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	batchDurationSeconds.Observe(duration.Seconds())
}

// ObserveStage records how many candidates left a stage.
func ObserveStage(stage string, survivors int) {
	stageSurvivorsTotal.WithLabelValues(stage).Add(float64(survivors))
}

// ObserveError counts a stage error by kind.
func ObserveError(stage, kind string) {
	stageErrorsTotal.WithLabelValues(stage, kind).Inc()
}

// ObserveVerdict counts one returned verdict.
func ObserveVerdict(isAttack bool, origin string) {
	verdictsTotal.WithLabelValues(strconv.FormatBool(isAttack), origin).Inc()
}

// SetIndexCases publishes the index size.
func SetIndexCases(n int) {
	indexCases.Set(float64(n))
}

// SetBudgetSpend publishes the hourly spend.
func SetBudgetSpend(usd float64) {
	budgetSpendUSD.Set(usd)
}
