package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Logger receives server lifecycle messages.
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
}

var initOnce sync.Once

// Init creates and registers every metric. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		for _, setup := range []func(){
			initCleanMetrics, initDiskMetrics, initAPIMetrics, initHealthMetrics,
			registerCleanMetrics, registerDiskMetrics, registerAPIMetrics, registerHealthMetrics,
		} {
			setup()
		}
		// Present in /metrics before the first run.
		LastRunTimestamp.Set(0)
	})
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// state holds the standalone metrics listener and the checker behind /health.
var state struct {
	mu     sync.Mutex
	srv    *http.Server
	health *HealthChecker
}

func SetHealthChecker(hc *HealthChecker) {
	state.mu.Lock()
	state.health = hc
	state.mu.Unlock()
}

func GetHealthChecker() *HealthChecker {
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.health
}

type healthBody struct {
	Status     string            `json:"status"`
	Healthy    bool              `json:"healthy"`
	Components map[string]bool   `json:"components,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
	Uptime     int64             `json:"uptime_seconds,omitempty"`
}

// HealthHandler answers 200 while every component is healthy and 503 with
// status "degraded" otherwise.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	body := healthBody{Status: "ok", Healthy: true}
	code := http.StatusOK
	if hc := GetHealthChecker(); hc != nil {
		body.Components = hc.GetHealth()
		body.Uptime = int64(hc.GetUptime())
		if !hc.IsHealthy() {
			body.Status, body.Healthy = "degraded", false
			body.Errors = hc.Errors()
			code = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// StartServer exposes /metrics and /health on addr in the background. A
// second call while a server is up is a no-op.
func StartServer(addr string, logger Logger) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if state.srv != nil {
		logger.Info("metrics server already running", "addr", state.srv.Addr)
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", HealthHandler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	state.srv = srv

	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
			ErrorsTotal.Inc()
		}
	}()
}

// Shutdown stops the health checker and then the metrics server.
func Shutdown(ctx context.Context, logger Logger) {
	state.mu.Lock()
	hc, srv := state.health, state.srv
	state.health, state.srv = nil, nil
	state.mu.Unlock()

	if hc != nil {
		hc.Stop()
	}
	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err)
		ErrorsTotal.Inc()
	}
}
