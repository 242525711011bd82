package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DownloadsTotal tracks finished tasks by status and provider.
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ripstream_downloads_total",
			Help: "Total number of download tasks by outcome",
		},
		[]string{"status", "provider"},
	)

	// DownloadDuration tracks per-task duration by provider.
	DownloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ripstream_download_duration_seconds",
			Help:    "Download task duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		},
		[]string{"provider"},
	)

	// ActiveDownloads tracks the number of in-flight tasks.
	ActiveDownloads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ripstream_active_downloads",
			Help: "Number of in-flight download tasks",
		},
	)

	// DownloadBytesTotal tracks total bytes fetched.
	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ripstream_download_bytes_total",
			Help: "Total bytes downloaded",
		},
	)

	// RateLimitWait tracks time spent waiting on the provider gate.
	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ripstream_rate_limit_wait_seconds",
			Help:    "Time spent waiting for a rate limit grant",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// ProgressEventsDropped tracks events dropped by a saturated bus.
	ProgressEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ripstream_progress_events_dropped_total",
			Help: "Progress events dropped because the bus queue was full",
		},
	)

	// ErrorsTotal tracks task errors by kind.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ripstream_errors_total",
			Help: "Total number of task errors by kind",
		},
		[]string{"kind"},
	)
)

// RecordDownloadStart records the start of a task.
func RecordDownloadStart() {
	ActiveDownloads.Inc()
}

// RecordDownloadComplete records a successfully finished task.
func RecordDownloadComplete(provider string, duration time.Duration, bytes int64) {
	DownloadsTotal.WithLabelValues("completed", provider).Inc()
	DownloadDuration.WithLabelValues(provider).Observe(duration.Seconds())
	DownloadBytesTotal.Add(float64(bytes))
	ActiveDownloads.Dec()
}

// RecordDownloadSkipped records a task skipped by the dedup ledger.
func RecordDownloadSkipped(provider string) {
	DownloadsTotal.WithLabelValues("skipped", provider).Inc()
}

// RecordDownloadFailed records a failed task.
func RecordDownloadFailed(provider string, errorKind string) {
	DownloadsTotal.WithLabelValues("failed", provider).Inc()
	ErrorsTotal.WithLabelValues(errorKind).Inc()
	ActiveDownloads.Dec()
}

// RecordRateLimitWait records time spent blocked on the provider gate.
func RecordRateLimitWait(provider string, waited time.Duration) {
	RateLimitWait.WithLabelValues(provider).Observe(waited.Seconds())
}
