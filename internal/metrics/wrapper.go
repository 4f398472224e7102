package metrics

import "github.com/prometheus/client_golang/prometheus"

// Interfaces for metrics to avoid circular imports
type MetricsCounter interface {
	Inc()
}

type MetricsGauge interface {
	Set(float64)
	Add(float64)
}

// MetricsWrapper adapts Metrics to the narrow interfaces the ml, online and ui
// packages depend on.
type MetricsWrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *MetricsWrapper {
	return &MetricsWrapper{m: m}
}

// Prediction metrics

func (w *MetricsWrapper) MLPredictionsInc() {
	w.m.MLPredictions.Inc()
}

func (w *MetricsWrapper) MLFailuresInc() {
	w.m.MLFailures.Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *MetricsWrapper) MLLatencyObserve(v float64) {
	w.m.MLLatency.Observe(v)
}

func (w *MetricsWrapper) MLPredictionScoresObserve(v float64) {
	w.m.MLPredictionScores.Observe(v)
}

func (w *MetricsWrapper) MLModelAgeSet(v float64) {
	w.m.MLModelAge.Set(v)
}

// Online learning metrics

func (w *MetricsWrapper) FeedbackInc() {
	w.m.FeedbackTotal.Inc()
}

func (w *MetricsWrapper) TrainingFailuresInc() {
	w.m.TrainingFailures.Inc()
	w.m.ErrorsTotal.Inc()
}

func (w *MetricsWrapper) TrainingLossObserve(v float64) {
	w.m.TrainingLoss.Observe(v)
}

func (w *MetricsWrapper) TrainingLatencyObserve(v float64) {
	w.m.TrainingLatency.Observe(v)
}

func (w *MetricsWrapper) AccuracySet(v float64) {
	w.m.FeedbackAccuracy.Set(v)
}

func (w *MetricsWrapper) CheckpointsInc() {
	w.m.Checkpoints.Inc()
}

func (w *MetricsWrapper) CheckpointFailuresInc() {
	w.m.CheckpointFailures.Inc()
	w.m.ErrorsTotal.Inc()
}

// WSClients exposes the websocket client gauge to the ui hub.
func (w *MetricsWrapper) WSClients() MetricsGauge {
	return &GaugeWrapper{w.m.WSClients}
}

// Errors exposes the global error counter to the ui hub.
func (w *MetricsWrapper) Errors() MetricsCounter {
	return &CounterWrapper{w.m.ErrorsTotal}
}

type CounterWrapper struct {
	c prometheus.Counter
}

func (cw *CounterWrapper) Inc() {
	cw.c.Inc()
}

type GaugeWrapper struct {
	g prometheus.Gauge
}

func (gw *GaugeWrapper) Set(v float64) {
	gw.g.Set(v)
}

func (gw *GaugeWrapper) Add(v float64) {
	gw.g.Add(v)
}
