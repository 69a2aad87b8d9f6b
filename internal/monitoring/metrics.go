package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "synapse"

var (
	SamplesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eeg",
		Name:      "samples_ingested_total",
		Help:      "EEG samples appended to the ring buffer.",
	})

	SamplesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eeg",
		Name:      "samples_dropped_total",
		Help:      "Malformed packets or lines discarded by a transport.",
	})

	TransportMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "eeg",
		Name:      "transport_messages_total",
		Help:      "Messages received per transport and kind.",
	}, []string{"transport", "kind"})

	ConnectionQuality = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "eeg",
		Name:      "connection_quality",
		Help:      "Quality tier at the last status query (0 disconnected .. 4 excellent).",
	})

	Predictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "model",
		Name:      "predictions_total",
		Help:      "Predictions served per regressor.",
	}, []string{"model"})

	TrainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "model",
		Name:      "training_runs_total",
		Help:      "Training runs per regressor and outcome.",
	}, []string{"model", "outcome"})

	Reviews = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "reviews_total",
		Help:      "Card reviews by the source of the confusion score.",
	}, []string{"source"})
)

// MetricsHandler serves the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
