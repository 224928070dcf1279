package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadedModels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "llmbridge",
			Subsystem: "registry",
			Name:      "loaded_models",
			Help:      "Number of models currently loaded",
		},
	)

	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "llmbridge",
			Subsystem: "registry",
			Name:      "generations_total",
			Help:      "Total generations by outcome",
		},
		[]string{"outcome"},
	)

	partialEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "llmbridge",
			Subsystem: "registry",
			Name:      "partial_events_total",
			Help:      "Total partial response events published",
		},
	)

	supersededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "llmbridge",
			Subsystem: "registry",
			Name:      "superseded_total",
			Help:      "Total generations discarded by a newer request on the same handle",
		},
	)

	gpuFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "llmbridge",
			Subsystem: "registry",
			Name:      "gpu_fallbacks_total",
			Help:      "Total model loads that fell back from GPU to CPU",
		},
	)
)

func init() {
	prometheus.MustRegister(loadedModels, generationsTotal, partialEvents, supersededTotal, gpuFallbacks)
}
