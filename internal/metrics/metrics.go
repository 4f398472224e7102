// Package metrics provides Prometheus metrics for the gender classifier service.
// It covers predictions, online training, checkpoints, the feedback ledger and
// the HTTP surface, all exposed via the Prometheus metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Prediction metrics
	MLPredictions      prometheus.Counter   // Total number of predictions made
	MLFailures         prometheus.Counter   // Total number of inference failures
	MLModelAge         prometheus.Gauge     // Seconds since the model was last updated
	MLLatency          prometheus.Histogram // Inference latency in seconds
	MLPredictionScores prometheus.Histogram // Distribution of raw model scores

	// Online learning metrics
	FeedbackTotal    prometheus.Counter   // Feedback submissions that trained the model
	TrainingFailures prometheus.Counter   // Training steps that failed
	TrainingLoss     prometheus.Histogram // Loss reported by each training step
	TrainingLatency  prometheus.Histogram // Duration of a training step in seconds
	FeedbackAccuracy prometheus.Gauge     // Ledger accuracy in percent

	// Checkpoint metrics
	Checkpoints        prometheus.Counter // Successful checkpoints
	CheckpointFailures prometheus.Counter // Failed checkpoints

	// HTTP and UI metrics
	HTTPRequests *prometheus.CounterVec   // Requests by route, method and status code
	HTTPDuration *prometheus.HistogramVec // Request duration by route
	WSClients    prometheus.Gauge         // Connected stats websocket clients

	ErrorsTotal prometheus.Counter // Total number of errors encountered
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		MLPredictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_predictions_total",
			Help: "Total number of predictions made",
		}),
		MLFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "ml_failures_total",
			Help: "Total number of inference failures",
		}),
		MLModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ml_model_age_seconds",
			Help: "Seconds since the model was last updated",
		}),
		MLLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_latency_seconds",
			Help:    "Inference latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		MLPredictionScores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ml_prediction_scores",
			Help:    "Distribution of raw model scores",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		FeedbackTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "feedback_total",
			Help: "Total number of feedback submissions applied to the model",
		}),
		TrainingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "training_failures_total",
			Help: "Total number of failed online training steps",
		}),
		TrainingLoss: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "training_loss",
			Help:    "Binary cross-entropy reported by online training steps",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		TrainingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "training_latency_seconds",
			Help:    "Duration of an online training step in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		FeedbackAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "feedback_accuracy_percent",
			Help: "Share of feedback that confirmed the previous prediction",
		}),
		Checkpoints: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkpoints_total",
			Help: "Total number of model checkpoints written",
		}),
		CheckpointFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "checkpoint_failures_total",
			Help: "Total number of failed model checkpoints",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "method", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Number of connected stats websocket clients",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// ObserveRequest records one finished HTTP request.
func (m *Metrics) ObserveRequest(route, method, code string, seconds float64) {
	m.HTTPRequests.WithLabelValues(route, method, code).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(seconds)
}
