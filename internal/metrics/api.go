package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestDuration is API latency by route template, method and status.
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestsTotal   *prometheus.CounterVec
)

func initAPIMetrics() {
	labels := []string{"handler", "method", "status"}
	HTTPRequestDuration = histogramVec("api_request_duration_seconds", "HTTP request duration in seconds.", requestBuckets, labels...)
	HTTPRequestsTotal = counterVec("api_requests_total", "Total HTTP requests processed by the toolbox API.", labels...)
}

func registerAPIMetrics() {
	prometheus.MustRegister(HTTPRequestDuration, HTTPRequestsTotal)
}

// ObserveRequest records one HTTP request.
func ObserveRequest(handler, method, status string, seconds float64) {
	Init()
	HTTPRequestDuration.WithLabelValues(handler, method, status).Observe(seconds)
	HTTPRequestsTotal.WithLabelValues(handler, method, status).Inc()
}
