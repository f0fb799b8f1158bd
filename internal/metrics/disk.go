package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"system-toolbox/internal/disk"
)

// Disk and process-level metrics
var (
	// ErrorsTotal tracks every error surfaced by the toolbox
	ErrorsTotal prometheus.Counter

	// FreeSpacePercent tracks free space of the volume holding each target
	FreeSpacePercent *prometheus.GaugeVec

	// TargetBytes tracks bytes currently held below each target
	TargetBytes *prometheus.GaugeVec

	// TargetFiles tracks regular files below each target
	TargetFiles *prometheus.GaugeVec

	// VolumeFreeBytes tracks free space of the volume holding each target
	VolumeFreeBytes *prometheus.GaugeVec

	// VolumeTotalBytes tracks capacity of the volume holding each target
	VolumeTotalBytes *prometheus.GaugeVec
)

func initDiskMetrics() {
	ErrorsTotal = counter("errors_total", "Total number of errors encountered by the toolbox.")
	FreeSpacePercent = gaugeVec("free_space_percent", "Free space percentage of the volume holding the target.", "target")
	TargetBytes = gaugeVec("target_bytes", "Bytes held by regular files below the target.", "target")
	TargetFiles = gaugeVec("target_files", "Number of regular files below the target.", "target")
	VolumeFreeBytes = gaugeVec("volume_free_bytes", "Free bytes on the volume holding the target.", "target")
	VolumeTotalBytes = gaugeVec("volume_total_bytes", "Capacity of the volume holding the target.", "target")
}

func registerDiskMetrics() {
	prometheus.MustRegister(
		ErrorsTotal,
		FreeSpacePercent,
		TargetBytes,
		TargetFiles,
		VolumeFreeBytes,
		VolumeTotalBytes,
	)
}

// UpdateTargetStats publishes a scan of one target.
func UpdateTargetStats(target string, stats *disk.PathStats) {
	Init()
	freePercent := 100.0
	if stats.TotalBytes > 0 {
		freePercent = (float64(stats.FreeBytes) / float64(stats.TotalBytes)) * 100.0
	}
	FreeSpacePercent.WithLabelValues(target).Set(freePercent)
	VolumeFreeBytes.WithLabelValues(target).Set(float64(stats.FreeBytes))
	VolumeTotalBytes.WithLabelValues(target).Set(float64(stats.TotalBytes))

	TargetBytes.WithLabelValues(target).Set(float64(stats.UsedBytes))
	TargetFiles.WithLabelValues(target).Set(float64(stats.FileCount))
}
