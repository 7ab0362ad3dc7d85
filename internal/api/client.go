// Package api implements store.Store over the drive REST API.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/rescale-drive/internal/config"
	"github.com/rescale/rescale-drive/internal/constants"
	"github.com/rescale/rescale-drive/internal/http"
	"github.com/rescale/rescale-drive/internal/logging"
	"github.com/rescale/rescale-drive/internal/metrics"
	"github.com/rescale/rescale-drive/internal/ratelimit"
)

// retryLogger adapts retryablehttp.LeveledLogger onto zerolog.
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// apiStats tracks API usage for the periodic debug summary.
type apiStats struct {
	sync.Mutex
	totalCalls    int64
	windowStart   time.Time
	callsInWindow int64
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string

	// HTTPClient is the underlying transport; nil uses a direct client.
	HTTPClient *nethttp.Client

	// Limits throttles requests per scope; nil disables throttling.
	Limits *ratelimit.Registry

	// TransportRetries is how often retryablehttp retries a single request.
	// The default of 0 leaves retrying to the caller's whole action.
	TransportRetries int

	Logger *logging.Logger
}

// Client talks to the drive REST API.
type Client struct {
	httpClient *nethttp.Client
	baseURL    string
	apiKey     string
	limits     *ratelimit.Registry
	logger     *logging.Logger
	stats      *apiStats
}

// NewClient creates a new API client.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("API base URL is empty: set base_url in [store] or RESCALE_DRIVE_API_URL")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("API base URL %q must start with http:// or https://", baseURL)
	}

	logger := logging.OrNop(opts.Logger)
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &nethttp.Client{Timeout: constants.HTTPRequestTimeout}
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = httpClient
	retryClient.RetryMax = opts.TransportRetries
	retryClient.RetryWaitMin = constants.RetryWaitMin
	retryClient.RetryWaitMax = constants.RetryWaitMax
	retryClient.Logger = &retryLogger{logger: logger}
	// Hand the final response back instead of a "giving up" error so that
	// status mapping stays in one place.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		httpClient: retryClient.StandardClient(),
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		limits:     opts.Limits,
		logger:     logger,
		stats:      &apiStats{windowStart: time.Now()},
	}, nil
}

// NewClientFromConfig builds a Client with proxy settings and throttling
// taken from cfg.
func NewClientFromConfig(cfg *config.Config, logger *logging.Logger) (*Client, error) {
	httpClient, err := http.ConfigureHTTPClient(cfg.Proxy, cfg.Store.BaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}
	return NewClient(Options{
		BaseURL:    cfg.Store.BaseURL,
		APIKey:     cfg.Store.APIKey,
		HTTPClient: httpClient,
		Limits:     ratelimit.NewRegistry(cfg.Store.RequestsPerSecond, constants.DefaultRequestBurst, logger),
		Logger:     logger,
	})
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doRequest performs an HTTP request with authentication and rate limiting.
// path is relative to the base URL unless it is absolute.
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader, contentType string) (*nethttp.Response, error) {
	scope := ratelimit.ScopeRead
	if c.limits != nil {
		scope = c.limits.ResolveScope(method, path)
	}
	limiter := c.limiter(scope)
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter cancelled: %w", err)
		}
	}
	c.trackCall()

	url := path
	external := strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
	if !external {
		url = c.baseURL + path
	}
	req, err := nethttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Signed download links carry their own authorization
	if !external || strings.HasPrefix(url, c.baseURL+"/") {
		req.Header.Set("Authorization", "Token "+c.apiKey)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAPIRequest(string(scope), 0)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).Msg("API call failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	metrics.RecordAPIRequest(string(scope), resp.StatusCode)

	if resp.StatusCode == nethttp.StatusTooManyRequests {
		ev := c.logger.Warn().Str("method", method).Str("path", path)
		if c.limits != nil {
			ev = ev.Str("scope", c.limits.ScopeDisplayString(scope))
		}
		if limiter != nil {
			limiter.Drain()
			if d := parseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
				limiter.SetCooldown(d)
				ev = ev.Dur("retry_after", d)
			}
		}
		ev.Msg("throttled by the API")
	}
	return resp, nil
}

func (c *Client) limiter(scope ratelimit.Scope) *ratelimit.RateLimiter {
	if c.limits == nil {
		return nil
	}
	return c.limits.Limiter(scope)
}

// trackCall counts a request and logs a usage summary every 30 seconds.
func (c *Client) trackCall() {
	c.stats.Lock()
	defer c.stats.Unlock()
	c.stats.totalCalls++
	c.stats.callsInWindow++

	if elapsed := time.Since(c.stats.windowStart); elapsed >= 30*time.Second {
		c.logger.Debug().
			Float64("req_per_sec", float64(c.stats.callsInWindow)/elapsed.Seconds()).
			Int64("total_calls", c.stats.totalCalls).
			Msg("API usage")
		c.stats.callsInWindow = 0
		c.stats.windowStart = time.Now()
	}
}

// parseRetryAfter accepts delay-seconds; HTTP-date values are ignored.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
