package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/rescale/rescale-drive/internal/config"
	"github.com/rescale/rescale-drive/internal/logging"
)

// CreateOptimizedClient creates the client shared by uploads and downloads.
// It starts from ConfigureHTTPClient and then:
//   - widens the connection pool for concurrent archive fetches
//   - disables compression (archives and media are already compressed)
//   - enables HTTP/2 unless DISABLE_HTTP2=true or a proxy is active
//   - clears the client timeout; transfers are bounded by their context
//
// FORCE_HTTP2=true keeps HTTP/2 even through a proxy.
func CreateOptimizedClient(p config.ProxyConfig, warmupURL string, logger *logging.Logger) (*nethttp.Client, error) {
	client, err := ConfigureHTTPClient(p, warmupURL, logger)
	if err != nil {
		return nil, err
	}
	client.Timeout = 0

	tr, ok := client.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport in a negotiator; leave it as is
		return client, nil
	}

	tr.MaxIdleConns = 512
	tr.MaxIdleConnsPerHost = 100
	tr.MaxConnsPerHost = 100
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	disable := os.Getenv("DISABLE_HTTP2") == "true"
	if ProxyActive(p, os.Getenv) && os.Getenv("FORCE_HTTP2") != "true" {
		// Proxies often break HTTP/2 multiplexing mid-transfer
		disable = true
	}
	if disable {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}
	return client, nil
}

// HTTP2Enabled reports whether c will negotiate HTTP/2.
func HTTP2Enabled(c *nethttp.Client) bool {
	tr, ok := c.Transport.(*nethttp.Transport)
	return ok && tr.ForceAttemptHTTP2
}
