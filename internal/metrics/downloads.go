package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhythm_downloads_total",
			Help: "Download requests by format and outcome (ready or a reason code).",
		},
		[]string{"format", "outcome"},
	)

	downloadSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rhythm_download_duration_seconds",
			Help:    "Time from request to Ready or Failed.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80, 120, 180},
		},
		[]string{"outcome"},
	)

	activeDownloads = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rhythm_active_downloads",
		Help: "External downloader invocations currently running.",
	})

	trackCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rhythm_track_cache_lookups_total",
			Help: "Provider metadata cache lookups by result (hit/miss).",
		},
		[]string{"result"},
	)
)

func init() {
	register(downloadsTotal, downloadSeconds, activeDownloads, trackCacheLookups)
}

// ObserveDownload records the outcome of one download request.
func ObserveDownload(format, outcome string, elapsed time.Duration) {
	downloadsTotal.WithLabelValues(norm(format), norm(outcome)).Inc()
	downloadSeconds.WithLabelValues(norm(outcome)).Observe(elapsed.Seconds())
}

// DownloadStarted and DownloadFinished bracket one external invocation.
func DownloadStarted()  { activeDownloads.Inc() }
func DownloadFinished() { activeDownloads.Dec() }

// TrackCacheLookup counts one metadata cache lookup.
func TrackCacheLookup(hit bool) {
	if hit {
		trackCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	trackCacheLookups.WithLabelValues("miss").Inc()
}
