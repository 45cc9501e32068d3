package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	roleNormalizer = "role_normalizer"

	// Routine metrics
	recordsProcessedTotal = "records_processed_total"
	cycleFailuresTotal    = "cycle_failures_total"
	cycleDuration         = "cycle_duration_seconds"
	cursorPosition        = "cursor_position"
	routineState          = "routine_state"

	// Normalization service metrics
	normalizationRequestsTotal   = "normalization_requests_total"
	normalizationRequestDuration = "normalization_request_duration_seconds"

	// Labels
	datasetLabel = "dataset"
	outcomeLabel = "outcome"
	classLabel   = "class"
	stateLabel   = "state"
)

/**
* Metrics definition
**/
var recordsProcessedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: roleNormalizer,
		Name:      recordsProcessedTotal,
		Help:      "number of records processed by the routine, by outcome (matched, unmatched, malformed)",
	},
	[]string{datasetLabel, outcomeLabel},
)

var cycleFailuresMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: roleNormalizer,
		Name:      cycleFailuresTotal,
		Help:      "number of aborted routine cycles, by error class",
	},
	[]string{datasetLabel, classLabel},
)

var cycleDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: roleNormalizer,
		Name:      cycleDuration,
		Help:      "duration of complete routine cycles",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	},
	[]string{datasetLabel},
)

var cursorPositionMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: roleNormalizer,
		Name:      cursorPosition,
		Help:      "last record id persisted in the dataset cursor",
	},
	[]string{datasetLabel},
)

var routineStateMetric = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Subsystem: roleNormalizer,
		Name:      routineState,
		Help:      "1 for the current state of the dataset routine, 0 for the others",
	},
	[]string{datasetLabel, stateLabel},
)

var normalizationRequestsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: roleNormalizer,
		Name:      normalizationRequestsTotal,
		Help:      "number of calls to the normalization service, retries included in a single call",
	},
	[]string{outcomeLabel},
)

var normalizationRequestDurationMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Subsystem: roleNormalizer,
		Name:      normalizationRequestDuration,
		Help:      "duration of calls to the normalization service",
		Buckets:   prometheus.DefBuckets,
	},
)

func IncreaseRecordsProcessedMetric(dataset, outcome string, count int) {
	if count <= 0 {
		return
	}
	labels := prometheus.Labels{
		datasetLabel: dataset,
		outcomeLabel: outcome,
	}
	recordsProcessedMetric.With(labels).Add(float64(count))
}

func IncreaseCycleFailuresMetric(dataset, class string) {
	labels := prometheus.Labels{
		datasetLabel: dataset,
		classLabel:   class,
	}
	cycleFailuresMetric.With(labels).Inc()
}

func ObserveCycleDuration(dataset string, d time.Duration) {
	cycleDurationMetric.With(prometheus.Labels{datasetLabel: dataset}).Observe(d.Seconds())
}

func UpdateCursorPositionMetric(dataset string, position uint64) {
	cursorPositionMetric.With(prometheus.Labels{datasetLabel: dataset}).Set(float64(position))
}

// UpdateRoutineStateMetric flags current as the active state among states.
func UpdateRoutineStateMetric(dataset, current string, states []string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		routineStateMetric.With(prometheus.Labels{datasetLabel: dataset, stateLabel: s}).Set(v)
	}
}

func ObserveNormalizationRequest(outcome string, d time.Duration) {
	normalizationRequestsMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
	normalizationRequestDurationMetric.Observe(d.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(recordsProcessedMetric)
	prometheus.MustRegister(cycleFailuresMetric)
	prometheus.MustRegister(cycleDurationMetric)
	prometheus.MustRegister(cursorPositionMetric)
	prometheus.MustRegister(routineStateMetric)
	prometheus.MustRegister(normalizationRequestsMetric)
	prometheus.MustRegister(normalizationRequestDurationMetric)
}
