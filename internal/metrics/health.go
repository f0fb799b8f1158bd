package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Health metrics
var (
	// ComponentHealthy is 1 while a component's last check passed
	ComponentHealthy *prometheus.GaugeVec

	// HealthCheckDuration tracks how long each component check takes
	HealthCheckDuration *prometheus.HistogramVec

	// HealthCheckFailures counts consecutive failures per component
	HealthCheckFailures *prometheus.GaugeVec

	// StartTime records when the process started serving (Unix seconds)
	StartTime prometheus.Gauge
)

var errHealthCheckTimeout = errors.New("health check timeout")

func initHealthMetrics() {
	ComponentHealthy = gaugeVec("component_healthy", "Component health (1=healthy, 0=unhealthy).", "component")
	HealthCheckDuration = histogramVec("health_check_duration_seconds", "Duration of component health checks in seconds.", requestBuckets, "component")
	HealthCheckFailures = gaugeVec("health_check_failures", "Consecutive failed health checks per component.", "component")
	StartTime = gauge("start_time_seconds", "Start time of the serving process (Unix epoch seconds).")
}

func registerHealthMetrics() {
	prometheus.MustRegister(
		ComponentHealthy,
		HealthCheckDuration,
		HealthCheckFailures,
		StartTime,
	)
}

// HealthChecker probes the toolbox's dependencies (the history database,
// mainly) and backs the /health endpoint.
type HealthChecker struct {
	started  time.Time
	interval time.Duration

	mu         sync.RWMutex
	components map[string]*component

	runOnce  sync.Once
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type component struct {
	check    func() error
	timeout  time.Duration
	healthy  bool
	failures int
	lastErr  string
}

func NewHealthChecker(interval time.Duration) *HealthChecker {
	Init()
	hc := &HealthChecker{
		started:    time.Now(),
		interval:   interval,
		components: make(map[string]*component),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	StartTime.Set(float64(hc.started.Unix()))
	return hc
}

// RegisterComponent adds or replaces a check. timeout 0 means no timeout.
// A new component counts as healthy until its first check.
func (hc *HealthChecker) RegisterComponent(name string, check func() error, timeout time.Duration) {
	hc.mu.Lock()
	hc.components[name] = &component{check: check, timeout: timeout, healthy: true}
	hc.mu.Unlock()
	ComponentHealthy.WithLabelValues(name).Set(1)
	HealthCheckFailures.WithLabelValues(name).Set(0)
}

// Start checks immediately and then on every interval until Stop.
func (hc *HealthChecker) Start() {
	hc.runOnce.Do(func() {
		go func() {
			defer close(hc.done)
			ticker := time.NewTicker(hc.interval)
			defer ticker.Stop()
			for {
				hc.RunChecks()
				select {
				case <-ticker.C:
				case <-hc.stop:
					return
				}
			}
		}()
	})
}

// Stop ends the background loop. Safe to call more than once, or without
// Start.
func (hc *HealthChecker) Stop() {
	hc.stopOnce.Do(func() {
		close(hc.stop)
		hc.runOnce.Do(func() { close(hc.done) })
		<-hc.done
	})
}

// RunChecks runs every check once. Checks run without the lock held so a
// slow database cannot block /health.
func (hc *HealthChecker) RunChecks() {
	hc.mu.RLock()
	pending := make(map[string]*component, len(hc.components))
	for name, c := range hc.components {
		pending[name] = c
	}
	hc.mu.RUnlock()

	for name, c := range pending {
		start := time.Now()
		err := runWithTimeout(c.check, c.timeout)
		HealthCheckDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

		hc.mu.Lock()
		if err != nil {
			c.healthy = false
			c.failures++
			c.lastErr = err.Error()
			ErrorsTotal.Inc()
		} else {
			c.healthy = true
			c.failures = 0
			c.lastErr = ""
		}
		failures := c.failures
		hc.mu.Unlock()

		if err != nil {
			ComponentHealthy.WithLabelValues(name).Set(0)
		} else {
			ComponentHealthy.WithLabelValues(name).Set(1)
		}
		HealthCheckFailures.WithLabelValues(name).Set(float64(failures))
	}
}

func runWithTimeout(fn func() error, timeout time.Duration) error {
	if timeout <= 0 {
		return fn()
	}
	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-errCh:
		return err
	case <-timer.C:
		return errHealthCheckTimeout
	}
}

// GetHealth returns the health flag of every component.
func (hc *HealthChecker) GetHealth() map[string]bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make(map[string]bool, len(hc.components))
	for name, c := range hc.components {
		out[name] = c.healthy
	}
	return out
}

// Errors returns the last error text of each failing component.
func (hc *HealthChecker) Errors() map[string]string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make(map[string]string)
	for name, c := range hc.components {
		if !c.healthy {
			out[name] = c.lastErr
		}
	}
	return out
}

func (hc *HealthChecker) IsHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	for _, c := range hc.components {
		if !c.healthy {
			return false
		}
	}
	return true
}

// GetUptime returns seconds since the checker was created.
func (hc *HealthChecker) GetUptime() float64 {
	return time.Since(hc.started).Seconds()
}
