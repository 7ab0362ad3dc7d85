// Package http builds the HTTP clients used by the REST backend and the
// object-store SDKs, and provides the whole-action retry helper.
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	ntlmssp "github.com/Azure/go-ntlmssp"
	"golang.org/x/net/http/httpproxy"

	"github.com/rescale/rescale-drive/internal/config"
	"github.com/rescale/rescale-drive/internal/constants"
	"github.com/rescale/rescale-drive/internal/logging"
)

const (
	modeDirect = "no-proxy"
	modeSystem = "system"
	modeBasic  = "basic"
	modeNTLM   = "ntlm"

	defaultProxyPort = 8080
	warmupTimeout    = 15 * time.Second
)

func proxyMode(p config.ProxyConfig) string {
	m := strings.ToLower(strings.TrimSpace(p.Mode))
	if m == "" {
		return modeDirect
	}
	return m
}

// authenticating reports whether the mode talks to an explicit proxy host.
func authenticating(mode string) bool {
	return mode == modeBasic || mode == modeNTLM
}

func baseTransport() *nethttp.Transport {
	dialer := &net.Dialer{
		Timeout:   constants.HTTPDialTimeout,
		KeepAlive: constants.HTTPDialKeepAlive,
	}
	return &nethttp.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   constants.HTTPMaxIdleConnsPerHost,
		IdleConnTimeout:       constants.HTTPIdleConnTimeout,
		TLSHandshakeTimeout:   constants.HTTPTLSHandshakeTimeout,
		ExpectContinueTimeout: constants.HTTPExpectContinueTimeout,
	}
}

// ConfigureHTTPClient returns a client that routes requests as p says.
// When p.Warmup is set and full proxy credentials are known, warmupURL is
// fetched once so the proxy handshake happens before the first listing.
func ConfigureHTTPClient(p config.ProxyConfig, warmupURL string, logger *logging.Logger) (*nethttp.Client, error) {
	logger = logging.OrNop(logger)
	tr := baseTransport()
	client := &nethttp.Client{Transport: tr, Timeout: constants.HTTPRequestTimeout}

	mode := proxyMode(p)
	switch {
	case mode == modeDirect:
		return client, nil
	case mode == modeSystem:
		tr.Proxy = nethttp.ProxyFromEnvironment
	case authenticating(mode):
		if p.Host == "" {
			// a half-written config should not lock the user out of the store
			logger.Warn().Str("mode", mode).Msg("proxy host is missing, connecting directly")
			return client, nil
		}
		tr.Proxy = proxyFuncWithBypass(buildProxyURL(p), p.NoProxy, logger)
		if mode == modeNTLM {
			client.Transport = ntlmssp.Negotiator{RoundTripper: tr}
		}
		if p.User != "" && p.Password == "" {
			if mode == modeBasic {
				logger.Warn().Msg("proxy password not set, requests go out without proxy credentials")
			}
			return client, nil
		}
		if p.User == "" {
			return client, nil
		}
	default:
		return nil, fmt.Errorf("unsupported proxy mode: %s", p.Mode)
	}

	if p.Warmup && warmupURL != "" {
		if err := warmupProxy(client, warmupURL); err != nil {
			return nil, fmt.Errorf("proxy warmup failed: %w", err)
		}
	}
	return client, nil
}

// buildProxyURL renders the proxy address. Credentials are embedded only
// when both halves are present.
func buildProxyURL(p config.ProxyConfig) *url.URL {
	port := p.Port
	if port == 0 {
		port = defaultProxyPort
	}
	u := &url.URL{Scheme: "http", Host: net.JoinHostPort(p.Host, strconv.Itoa(port))}
	if p.User != "" && p.Password != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u
}

func warmupProxy(client *nethttp.Client, target string) error {
	ctx, cancel := context.WithTimeout(context.Background(), warmupTimeout)
	defer cancel()

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("warmup request failed: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("warmup request returned server error: %d", resp.StatusCode)
	}
	return nil
}

// proxyFuncWithBypass sends every request to proxyURL except hosts that
// match the comma-separated noProxy list (domains, *.wildcards, CIDRs).
func proxyFuncWithBypass(proxyURL *url.URL, noProxy string, logger *logging.Logger) func(*nethttp.Request) (*url.URL, error) {
	if strings.TrimSpace(noProxy) == "" {
		return nethttp.ProxyURL(proxyURL)
	}
	logger = logging.OrNop(logger)
	route := (&httpproxy.Config{
		HTTPProxy:  proxyURL.String(),
		HTTPSProxy: proxyURL.String(),
		NoProxy:    noProxy,
	}).ProxyFunc()

	return func(req *nethttp.Request) (*url.URL, error) {
		via, err := route(req.URL)
		ev := logger.Debug().Str("host", req.URL.Host)
		if via == nil {
			ev.Msg("proxy bypass")
		} else {
			ev.Str("proxy", via.Host).Msg("proxied")
		}
		return via, err
	}
}

// NeedsProxyPassword is true when a basic or NTLM proxy has a user but no
// password; the CLI asks for it before opening the store.
func NeedsProxyPassword(p config.ProxyConfig) bool {
	return authenticating(proxyMode(p)) && p.User != "" && p.Password == ""
}

// ProxyActive reports whether requests built from p leave through a proxy.
// In system mode that depends on the proxy variables lookupEnv returns.
func ProxyActive(p config.ProxyConfig, lookupEnv func(string) string) bool {
	switch mode := proxyMode(p); {
	case mode == modeDirect:
		return false
	case mode == modeSystem:
		for _, k := range []string{"HTTP_PROXY", "HTTPS_PROXY", "http_proxy", "https_proxy"} {
			if lookupEnv(k) != "" {
				return true
			}
		}
		return false
	default:
		return p.Host != ""
	}
}
