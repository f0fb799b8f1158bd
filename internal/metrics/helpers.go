package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// namespace prefixes every toolbox metric.
const namespace = "toolbox"

var (
	// cleanBuckets span a tiny temp folder up to a large browser cache walk.
	cleanBuckets = []float64{0.01, 0.05, 0.25, 1, 5, 15, 60, 300, 900}

	// requestBuckets suit API handlers and health checks.
	requestBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 5}
)

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

func gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

func histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}
