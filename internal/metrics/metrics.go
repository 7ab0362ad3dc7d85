// Package metrics provides Prometheus metrics for rescale-drive.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Listing metrics
	listingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescale_drive_listing_requests_total",
			Help: "Total number of folder listing calls issued to the store",
		},
		[]string{"kind", "status"}, // kind: page|cursor
	)

	cursorWalkSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rescale_drive_cursor_walk_steps",
			Help:    "Number of cursor-only calls needed to reach a requested page",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	listingCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescale_drive_listing_cache_total",
			Help: "Listing cache lookups and invalidations",
		},
		[]string{"result"}, // hit|miss|invalidate|stale
	)

	// Transfer metrics
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescale_drive_uploads_total",
			Help: "Total number of file uploads by outcome",
		},
		[]string{"status"}, // success|failed|rejected
	)

	uploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rescale_drive_upload_bytes_total",
			Help: "Total bytes uploaded",
		},
	)

	archiveItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescale_drive_archive_items_total",
			Help: "Files fetched for archive assembly by outcome",
		},
		[]string{"status"}, // success|failed
	)

	archiveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rescale_drive_archive_duration_seconds",
			Help:    "Time to enumerate, fetch and assemble a folder archive",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescale_drive_api_requests_total",
			Help: "Requests sent to the drive REST API",
		},
		[]string{"scope", "code"},
	)

	apiThrottledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescale_drive_api_throttled_total",
			Help: "429 responses received from the drive REST API",
		},
		[]string{"scope"},
	)

	flattenEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rescale_drive_flatten_entries_total",
			Help: "Entries produced or skipped while flattening upload payloads",
		},
		[]string{"result"}, // file|skipped
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until the server fails.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return srv.ListenAndServe()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}

// RecordListing records a listing call. cursorOnly marks cursor-walk calls.
func RecordListing(cursorOnly, success bool) {
	kind := "page"
	if cursorOnly {
		kind = "cursor"
	}
	listingRequestsTotal.WithLabelValues(kind, status(success)).Inc()
}

// RecordCursorWalk records how many replay calls a cursor resolution took.
func RecordCursorWalk(steps int) {
	cursorWalkSteps.Observe(float64(steps))
}

// RecordCache records a cache outcome: hit, miss, invalidate or stale.
func RecordCache(result string) {
	listingCacheTotal.WithLabelValues(result).Inc()
}

// RecordUpload records one upload attempt.
func RecordUpload(bytes int64, success bool) {
	uploadsTotal.WithLabelValues(status(success)).Inc()
	if success {
		uploadBytes.Add(float64(bytes))
	}
}

// RecordUploadRejected records an upload rejected by local validation.
func RecordUploadRejected() {
	uploadsTotal.WithLabelValues("rejected").Inc()
}

// RecordArchiveItem records one archive fetch.
func RecordArchiveItem(success bool) {
	archiveItemsTotal.WithLabelValues(status(success)).Inc()
}

// RecordArchive records the duration of a completed archive run.
func RecordArchive(d time.Duration) {
	archiveDuration.Observe(d.Seconds())
}

// RecordFlatten records flattened and skipped entry counts.
func RecordFlatten(files, skipped int) {
	flattenEntriesTotal.WithLabelValues("file").Add(float64(files))
	flattenEntriesTotal.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordAPIRequest records one REST call; code is 0 when no response arrived.
func RecordAPIRequest(scope string, code int) {
	apiRequestsTotal.WithLabelValues(scope, strconv.Itoa(code)).Inc()
	if code == http.StatusTooManyRequests {
		apiThrottledTotal.WithLabelValues(scope).Inc()
	}
}
