package constants

import (
	"time"
)

// Listing
const (
	// DefaultPageSize - number of items fetched per listing page (9)
	// Matches the three-by-three grid the web client renders per page.
	DefaultPageSize = 9

	// MaxPageSize - upper bound accepted by every backend for a single page
	MaxPageSize = 1000

	// PaginationWindow - number of page links shown around the current page
	PaginationWindow = 5

	// ArchiveEnumerationPageSize - page size used when enumerating a folder for archiving
	ArchiveEnumerationPageSize = 100

	// RootCacheKey - listing cache key used for the implicit root folder
	RootCacheKey = "root"
)

// Transfer limits
const (
	// DefaultMaxUploadBytes - per-file upload cap (100 MB)
	DefaultMaxUploadBytes = 100 * 1024 * 1024

	// DefaultArchiveConcurrency - concurrent fetches while assembling an archive
	DefaultArchiveConcurrency = 4

	// MaxArchiveConcurrency - cap for the archive fetch window
	MaxArchiveConcurrency = 16

	// MaxPreviewBytes - previews longer than this are truncated (1 MB)
	MaxPreviewBytes = 1 * 1024 * 1024
)

// Event Bus
const (
	// EventBusDefaultBuffer - default buffer size for event channels (1000)
	// Sized for a full archive run reporting one event per item.
	EventBusDefaultBuffer = 1000

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (5000)
	EventBusMaxBuffer = 5000
)

// HTTP client
const (
	// HTTPRequestTimeout - overall timeout for a single API request (5 minutes)
	HTTPRequestTimeout = 5 * time.Minute

	// HTTPDialTimeout - TCP connect timeout
	HTTPDialTimeout = 30 * time.Second

	// HTTPIdleConnTimeout - how long idle keep-alive connections are retained
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPMaxIdleConnsPerHost - idle connection pool per backend host
	HTTPMaxIdleConnsPerHost = 10

	// HTTPDialKeepAlive - TCP keep-alive probe interval
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPTLSHandshakeTimeout - TLS handshake timeout
	HTTPTLSHandshakeTimeout = 10 * time.Second

	// HTTPExpectContinueTimeout - wait for 100-continue before sending a body
	HTTPExpectContinueTimeout = 1 * time.Second

	// RetryWaitMin/RetryWaitMax bound transport-level backoff when retries are enabled
	RetryWaitMin = 1 * time.Second
	RetryWaitMax = 30 * time.Second
)

// Rate limiting
const (
	// DefaultRequestsPerSecond - sustained API request rate for the HTTP backend
	DefaultRequestsPerSecond = 10.0

	// DefaultRequestBurst - requests that may be issued back-to-back before throttling
	DefaultRequestBurst = 20.0
)

// UI Updates
const (
	// ProgressUpdateInterval - interval for progress bar refreshes (250ms)
	ProgressUpdateInterval = 250 * time.Millisecond
)
