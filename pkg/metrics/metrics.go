// Package metrics provides access to Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "thumbnailer"

// Web
var (
	HTTPResponseStatuses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "web",
			Name:      "http_response_statuses_total",
		},
		[]string{"status"},
	)
	HTTPResponseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "web",
			Name:      "http_response_time_seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
		},
		[]string{"path"},
	)
)

// Office pool
var (
	OfficeHandlesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "office",
			Name:      "handles_created_total",
		},
		[]string{"target"},
	)
	OfficeHandleOpenErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "office",
			Name:      "handle_open_errors_total",
		},
		[]string{"target"},
	)
	OfficeHandlesInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "office",
			Name:      "handles_in_use",
		},
		[]string{"target"},
	)
	OfficeHandlesEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "office",
			Name:      "handles_evicted_total",
		},
		[]string{"reason"},
	)
	OfficeHandleOpenDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "office",
			Name:      "handle_open_duration_seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)
	OfficeConversionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "office",
			Name:      "conversion_duration_seconds",
			Buckets:   []float64{0.2, 0.5, 1, 2, 5, 10, 15, 30, 60},
		},
	)
	OfficeConversionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "office",
			Name:      "conversion_errors_total",
		},
	)
)

// Thumbnails
var (
	ThumbnailsErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "thumbnails",
			Name:      "errors_total",
		},
		[]string{"backend"},
	)
	ThumbnailsCreateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "thumbnails",
			Name:      "create_duration_seconds",
			Buckets:   []float64{0.05, 0.2, 0.5, 1, 2, 5, 10, 15, 30, 60},
		},
		[]string{"backend"},
	)
	ThumbnailsOriginalFileSizes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "thumbnails",
			Name:      "original_file_size_bytes",
			Buckets: []float64{
				124 << 10, // 124 Kib
				512 << 10, // 512 Kib
				1 << 20,   // 1 Mib
				5 << 20,   // 5 Mib
				10 << 20,  // 10 Mib
				30 << 20,  // 30 Mib
				100 << 20, // 100 Mib
			},
		},
	)
)

// Cache
var (
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
		},
	)
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
		},
	)
	CacheErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
		},
	)
)

// Init values for common labels.
func init() {
	for _, status := range []string{"200", "400", "404", "500"} {
		HTTPResponseStatuses.With(prometheus.Labels{"status": status}).Add(0)
	}
	for _, reason := range []string{"unhealthy", "idle", "lease_timeout"} {
		OfficeHandlesEvicted.With(prometheus.Labels{"reason": reason}).Add(0)
	}
	for _, backend := range []string{"image", "video", "pdf", "office"} {
		ThumbnailsErrors.With(prometheus.Labels{"backend": backend}).Add(0)
	}
}
