package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All metrics are low-cardinality (no camera_id/recipient labels)

var (
	// TriggersTotal counts trigger decisions by kind
	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_triggers_total",
			Help: "Trigger decisions by trigger kind and decision",
		},
		[]string{"kind", "decision"},
	)

	// LaneOverflowTotal counts queued explicit triggers dropped for a newer one
	LaneOverflowTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_lane_overflow_total",
			Help: "Queued triggers dropped because a camera lane queue was full",
		},
	)

	AnalysisRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_analysis_runs_total",
			Help: "Completed analysis runs by result status",
		},
		[]string{"status"},
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_analysis_duration_seconds",
			Help:    "Wall time of one analysis run",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
	)

	ActiveAnalyses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vigil_active_analyses",
			Help: "Analysis runs currently in flight",
		},
	)

	VisionCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_vision_calls_total",
			Help: "Vision provider calls by outcome",
		},
		[]string{"outcome"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_deliveries_total",
			Help: "Notification deliveries by channel and status",
		},
		[]string{"channel", "status"},
	)

	PatrolRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vigil_patrol_runs_total",
			Help: "Completed patrols",
		},
	)

	PatrolCamerasTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_patrol_cameras_total",
			Help: "Per-camera patrol entries by status",
		},
		[]string{"status"},
	)

	PatrolDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_patrol_duration_seconds",
			Help:    "Wall time of one patrol including consolidation",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120},
		},
	)

	PersistenceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_persistence_failures_total",
			Help: "Timeline persistence failures by stage (db, spool)",
		},
		[]string{"stage"},
	)
)

// Helper functions for metrics recording

func RecordTrigger(kind, decision string) {
	TriggersTotal.WithLabelValues(kind, decision).Inc()
}

func RecordOverflow() {
	LaneOverflowTotal.Inc()
}

// StartAnalysis marks a run in flight and returns the func that ends it.
func StartAnalysis() func(status string) {
	start := time.Now()
	ActiveAnalyses.Inc()
	return func(status string) {
		ActiveAnalyses.Dec()
		AnalysisDuration.Observe(time.Since(start).Seconds())
		AnalysisRunsTotal.WithLabelValues(status).Inc()
	}
}

func RecordVisionCall(outcome string) {
	VisionCallsTotal.WithLabelValues(outcome).Inc()
}

func RecordDelivery(channel, status string) {
	DeliveriesTotal.WithLabelValues(channel, status).Inc()
}

func RecordPatrol(d time.Duration) {
	PatrolRunsTotal.Inc()
	PatrolDuration.Observe(d.Seconds())
}

func RecordPatrolCamera(status string) {
	PatrolCamerasTotal.WithLabelValues(status).Inc()
}

func RecordPersistenceFailure(stage string) {
	PersistenceFailuresTotal.WithLabelValues(stage).Inc()
}
