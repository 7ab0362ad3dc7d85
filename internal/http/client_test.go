package http

import (
	nethttp "net/http"
	"testing"

	ntlmssp "github.com/Azure/go-ntlmssp"

	"github.com/rescale/rescale-drive/internal/config"
)

func TestConfigureHTTPClient_Modes(t *testing.T) {
	tests := []struct {
		name      string
		proxy     config.ProxyConfig
		wantProxy bool
		wantNTLM  bool
		wantErr   bool
	}{
		{"no proxy", config.ProxyConfig{Mode: "no-proxy"}, false, false, false},
		{"empty mode", config.ProxyConfig{}, false, false, false},
		{"basic", config.ProxyConfig{Mode: "basic", Host: "proxy.corp", Port: 3128}, true, false, false},
		{"basic without host", config.ProxyConfig{Mode: "basic"}, false, false, false},
		{"ntlm", config.ProxyConfig{Mode: "NTLM", Host: "proxy.corp"}, false, true, false},
		{"unsupported", config.ProxyConfig{Mode: "socks"}, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := ConfigureHTTPClient(tt.proxy, "", nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, ok := client.Transport.(ntlmssp.Negotiator); ok != tt.wantNTLM {
				t.Errorf("NTLM negotiator = %v, want %v", ok, tt.wantNTLM)
			}
			if tr, ok := client.Transport.(*nethttp.Transport); ok {
				if (tr.Proxy != nil) != tt.wantProxy {
					t.Errorf("proxy set = %v, want %v", tr.Proxy != nil, tt.wantProxy)
				}
			}
		})
	}
}

func TestBuildProxyURL(t *testing.T) {
	u := buildProxyURL(config.ProxyConfig{Host: "proxy.corp", User: "alice", Password: "pw"})
	if u.Host != "proxy.corp:8080" {
		t.Errorf("expected default port 8080, got %s", u.Host)
	}
	if u.User == nil || u.User.Username() != "alice" {
		t.Errorf("expected credentials in URL, got %v", u.User)
	}

	u = buildProxyURL(config.ProxyConfig{Host: "proxy.corp", Port: 3128, User: "alice"})
	if u.User != nil {
		t.Error("credentials must be omitted without a password")
	}
}

func TestNeedsProxyPassword(t *testing.T) {
	tests := []struct {
		proxy config.ProxyConfig
		want  bool
	}{
		{config.ProxyConfig{Mode: "basic", User: "u"}, true},
		{config.ProxyConfig{Mode: "ntlm", User: "u", Password: "p"}, false},
		{config.ProxyConfig{Mode: "basic"}, false},
		{config.ProxyConfig{Mode: "system", User: "u"}, false},
	}
	for _, tt := range tests {
		if got := NeedsProxyPassword(tt.proxy); got != tt.want {
			t.Errorf("NeedsProxyPassword(%+v) = %v, want %v", tt.proxy, got, tt.want)
		}
	}
}

func TestProxyActive(t *testing.T) {
	env := func(vals map[string]string) func(string) string {
		return func(k string) string { return vals[k] }
	}
	if ProxyActive(config.ProxyConfig{Mode: "no-proxy"}, env(map[string]string{"HTTPS_PROXY": "x"})) {
		t.Error("no-proxy must ignore the environment")
	}
	if !ProxyActive(config.ProxyConfig{Mode: "system"}, env(map[string]string{"https_proxy": "x"})) {
		t.Error("system mode with https_proxy should be active")
	}
	if ProxyActive(config.ProxyConfig{Mode: "system"}, env(nil)) {
		t.Error("system mode without env should be inactive")
	}
	if !ProxyActive(config.ProxyConfig{Mode: "basic", Host: "p"}, env(nil)) {
		t.Error("basic mode with host should be active")
	}
}

func TestCreateOptimizedClient_DisablesHTTP2BehindProxy(t *testing.T) {
	t.Setenv("FORCE_HTTP2", "")
	t.Setenv("DISABLE_HTTP2", "")

	direct, err := CreateOptimizedClient(config.ProxyConfig{Mode: "no-proxy"}, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !HTTP2Enabled(direct) || direct.Timeout != 0 {
		t.Errorf("direct client: http2=%v timeout=%v", HTTP2Enabled(direct), direct.Timeout)
	}

	proxied, err := CreateOptimizedClient(config.ProxyConfig{Mode: "basic", Host: "proxy.corp"}, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if HTTP2Enabled(proxied) {
		t.Error("HTTP/2 should be disabled behind a proxy")
	}
}
