package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type RecapMetrics struct {
	JobsStarted   prometheus.Counter
	JobsCompleted prometheus.Counter
	JobsFailed    prometheus.Counter

	StageDurationSec *prometheus.HistogramVec
	QueueDepth       *prometheus.GaugeVec

	WebhookCallbackCount *prometheus.CounterVec
	TTSRequestDuration   prometheus.Histogram
	LLMRequestDuration   prometheus.Histogram
}

func NewMetrics() *RecapMetrics {
	m := &RecapMetrics{
		JobsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recap_jobs_started_count",
			Help: "The total number of recap jobs dequeued by workers",
		}),
		JobsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recap_jobs_completed_count",
			Help: "The total number of recap jobs that reached completed",
		}),
		JobsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "recap_jobs_failed_count",
			Help: "The total number of recap jobs that reached failed",
		}),
		StageDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recap_stage_duration_seconds",
			Help:    "Time taken by each pipeline stage",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}, []string{"stage"}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recap_queue_depth",
			Help: "Number of job ids waiting in each queue",
		}, []string{"queue"}),
		WebhookCallbackCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "recap_webhook_callback_count",
			Help: "Webhook callbacks received, broken up by outcome",
		}, []string{"outcome"}),
		TTSRequestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "recap_tts_request_duration_seconds",
			Help:    "Time taken by speech synthesis requests",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		LLMRequestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "recap_llm_request_duration_seconds",
			Help:    "Time taken by text generation requests",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}

	return m
}

var Metrics = NewMetrics()
