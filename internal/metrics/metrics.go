// Package metrics exposes prometheus collectors for the pipeline
// stages and the inference surface, grounded on the platform's
// DataPipelineEngine metrics (records processed, processing duration,
// quality score).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stage holds the collectors for a single pipeline stage.
type Stage struct {
	RowsIn       prometheus.Counter
	RowsOut      prometheus.Counter
	Duration     prometheus.Histogram
	QualityScore prometheus.Gauge
}

// NewStage registers collectors for the named stage. Safe to call once
// per stage per process; re-registration under the same name panics,
// matching promauto's behavior, so callers construct stages once at
// startup.
func NewStage(name string) *Stage {
	return &Stage{
		RowsIn: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recommend_engine_stage_rows_in_total",
			Help: "Rows read by a pipeline stage.",
			ConstLabels: prometheus.Labels{"stage": name},
		}),
		RowsOut: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recommend_engine_stage_rows_out_total",
			Help: "Rows emitted by a pipeline stage.",
			ConstLabels: prometheus.Labels{"stage": name},
		}),
		Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "recommend_engine_stage_duration_seconds",
			Help: "Wall-clock duration of a pipeline stage run.",
			ConstLabels: prometheus.Labels{"stage": name},
		}),
		QualityScore: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "recommend_engine_stage_quality_score",
			Help: "Fraction of input rows that survived stage filtering.",
			ConstLabels: prometheus.Labels{"stage": name},
		}),
	}
}

// Observe records one stage run's outcome.
func (s *Stage) Observe(rowsIn, rowsOut int, durationSeconds float64) {
	s.RowsIn.Add(float64(rowsIn))
	s.RowsOut.Add(float64(rowsOut))
	s.Duration.Observe(durationSeconds)
	if rowsIn > 0 {
		s.QualityScore.Set(float64(rowsOut) / float64(rowsIn))
	} else {
		s.QualityScore.Set(0)
	}
}

// Inference holds the collectors for the S6 HTTP surface.
type Inference struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewInference registers the inference-surface collectors.
func NewInference() *Inference {
	return &Inference{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "recommend_engine_inference_requests_total",
			Help: "Inference requests by route and source (precomputed/realtime_assignment/error).",
		}, []string{"route", "source"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name: "recommend_engine_inference_request_duration_seconds",
			Help: "Inference request duration by route.",
		}, []string{"route"}),
	}
}
