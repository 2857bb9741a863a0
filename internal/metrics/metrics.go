// Package metrics exposes Prometheus instrumentation shared by the serving
// and ingest processes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Hub metrics
	Subscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "slidesync_subscribers",
			Help: "Number of connected event stream subscribers",
		},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidesync_events_published_total",
			Help: "Total number of events broadcast by type",
		},
		[]string{"type"},
	)

	SubscribersEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slidesync_subscribers_evicted_total",
			Help: "Total number of subscribers dropped because their queue was full",
		},
	)

	// Engine metrics
	Images = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "slidesync_images",
			Help: "Number of images in the live set",
		},
	)

	PendingChanges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "slidesync_pending_changes",
			Help: "Adds and removes waiting for the next reshuffle",
		},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slidesync_flush_duration_seconds",
			Help:    "Time taken to apply a pending batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Config metrics
	ConfigReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidesync_config_reloads_total",
			Help: "Config reloads from disk by result",
		},
		[]string{"result"},
	)

	// Reprocessing metrics
	JobsRequested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidesync_jobs_requested_total",
			Help: "Reprocessing job requests by result",
		},
		[]string{"result"},
	)

	FilesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidesync_files_processed_total",
			Help: "Transcoded files by mode and result",
		},
		[]string{"mode", "result"},
	)

	TranscodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slidesync_transcode_duration_seconds",
			Help:    "Time taken by a single transcode",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	MarkerWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidesync_marker_warnings_total",
			Help: "Marker files found corrupt or orphaned",
		},
		[]string{"kind"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slidesync_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(Subscribers)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(SubscribersEvicted)
	prometheus.MustRegister(Images)
	prometheus.MustRegister(PendingChanges)
	prometheus.MustRegister(FlushDuration)
	prometheus.MustRegister(ConfigReloads)
	prometheus.MustRegister(JobsRequested)
	prometheus.MustRegister(FilesProcessed)
	prometheus.MustRegister(TranscodeDuration)
	prometheus.MustRegister(MarkerWarnings)
	prometheus.MustRegister(APIRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer observes an elapsed duration into a histogram.
type Timer struct {
	start time.Time
	obs   prometheus.Observer
}

// NewTimer starts timing for obs.
func NewTimer(obs prometheus.Observer) *Timer {
	return &Timer{start: time.Now(), obs: obs}
}

// ObserveDuration records the time since NewTimer and returns it.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	t.obs.Observe(d.Seconds())
	return d
}
