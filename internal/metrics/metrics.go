package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels analysis runs that produced a result.
	OutcomeSuccess = "success"
	// OutcomeError labels failed analysis runs.
	OutcomeError = "error"
	// OutcomeStale labels responses discarded because a newer request
	// superseded them.
	OutcomeStale = "stale"

	// ModeWorker labels analyses executed in the worker context.
	ModeWorker = "worker"
	// ModeLocal labels analyses executed synchronously in-process.
	ModeLocal = "local"
)

var (
	analysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtc_triage",
			Name:      "analyses_total",
			Help:      "Total number of analysis dispatches, partitioned by outcome and execution mode.",
		},
		[]string{"outcome", "mode"},
	)

	analysisDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rtc_triage",
			Name:      "analysis_seconds",
			Help:      "Analysis dispatch latency in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	issuesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rtc_triage",
			Name:      "issues_detected_total",
			Help:      "Issues produced by analysis runs, partitioned by severity.",
		},
		[]string{"severity"},
	)
)

// Register attaches rtc-triage collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		analysesTotal,
		analysisDurationSeconds,
		issuesDetected,
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

// ObserveAnalysis records one analysis dispatch.
func ObserveAnalysis(duration time.Duration, outcome, mode string) {
	analysesTotal.WithLabelValues(outcome, mode).Inc()
	if duration < 0 {
		duration = 0
	}
	analysisDurationSeconds.Observe(duration.Seconds())
}

// CountIssues records the severities of issues in a completed run.
func CountIssues(severities []string) {
	for _, severity := range severities {
		issuesDetected.WithLabelValues(severity).Inc()
	}
}
