package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"system-toolbox/internal/cleaner"
)

// Clean subsystem metrics
var (
	// CleanDuration tracks how long one target takes to clean
	CleanDuration *prometheus.HistogramVec

	// BytesFreedTotal tracks bytes freed per target
	BytesFreedTotal *prometheus.CounterVec

	// EntriesCleanedTotal counts deleted (or would-delete) entries per target
	EntriesCleanedTotal *prometheus.CounterVec

	// EntriesSkippedTotal counts skipped entries per target and reason
	EntriesSkippedTotal *prometheus.CounterVec

	// DirsRemovedTotal counts emptied directories removed
	DirsRemovedTotal prometheus.Counter

	// CleanErrorsTotal counts targets whose root could not be cleaned
	CleanErrorsTotal *prometheus.CounterVec

	// LastRunTimestamp records the end of the last session (Unix seconds)
	LastRunTimestamp prometheus.Gauge

	// TasksActive tracks cleaning tasks running on the worker pool
	TasksActive prometheus.Gauge

	// RecycleBinBytesFreedTotal tracks bytes released by emptying the bin
	RecycleBinBytesFreedTotal prometheus.Counter
)

func initCleanMetrics() {
	CleanDuration = histogramVec("clean_duration_seconds", "Duration of one target clean in seconds.", cleanBuckets, "target")
	BytesFreedTotal = counterVec("bytes_freed_total", "Total bytes freed per target.", "target")
	EntriesCleanedTotal = counterVec("entries_cleaned_total", "Total entries deleted per target (dry runs included).", "target", "dry_run")
	EntriesSkippedTotal = counterVec("entries_skipped_total", "Total entries skipped per target and reason.", "target", "reason")
	DirsRemovedTotal = counter("dirs_removed_total", "Total empty directories removed after cleaning.")
	CleanErrorsTotal = counterVec("clean_errors_total", "Total targets that failed with a whole-root error.", "target")
	LastRunTimestamp = gauge("last_run_timestamp", "Timestamp of the last cleaning session (Unix epoch seconds).")
	TasksActive = gauge("tasks_active", "Cleaning tasks currently running.")
	RecycleBinBytesFreedTotal = counter("recycle_bin_bytes_freed_total", "Total bytes released by emptying the recycle bin.")
}

func registerCleanMetrics() {
	prometheus.MustRegister(
		CleanDuration,
		BytesFreedTotal,
		EntriesCleanedTotal,
		EntriesSkippedTotal,
		DirsRemovedTotal,
		CleanErrorsTotal,
		LastRunTimestamp,
		TasksActive,
		RecycleBinBytesFreedTotal,
	)
}

// RecordCleanResult adds one target's result to the counters.
func RecordCleanResult(target string, res cleaner.Result, dryRun bool, took time.Duration) {
	Init()
	CleanDuration.WithLabelValues(target).Observe(took.Seconds())
	BytesFreedTotal.WithLabelValues(target).Add(float64(res.BytesFreed))

	dry := "false"
	if dryRun {
		dry = "true"
	}
	EntriesCleanedTotal.WithLabelValues(target, dry).Add(float64(res.CleanedCount))
	for reason, n := range res.SkippedByReason {
		EntriesSkippedTotal.WithLabelValues(target, string(reason)).Add(float64(n))
	}
	DirsRemovedTotal.Add(float64(res.DirsRemoved))
}

// RecordCleanError counts a target that failed as a whole.
func RecordCleanError(target string) {
	Init()
	CleanErrorsTotal.WithLabelValues(target).Inc()
	ErrorsTotal.Inc()
}

// RecordRun updates the last run timestamp to now.
func RecordRun() {
	Init()
	LastRunTimestamp.Set(float64(time.Now().Unix()))
}

// RecordRecycleBin adds bytes released by the recycle bin.
func RecordRecycleBin(bytes int64) {
	Init()
	RecycleBinBytesFreedTotal.Add(float64(bytes))
}

// TaskStarted marks a cleaning task as running.
func TaskStarted() {
	Init()
	TasksActive.Inc()
}

// TaskFinished marks a running cleaning task as done.
func TaskFinished() {
	Init()
	TasksActive.Dec()
}
