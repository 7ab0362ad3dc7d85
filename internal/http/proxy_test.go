package http

import (
	nethttp "net/http"
	"net/url"
	"testing"
)

func TestProxyFuncWithBypass(t *testing.T) {
	proxyURL, err := url.Parse("http://proxy.corp:8080")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		noProxy string
		target  string
		direct  bool
	}{
		{"empty list proxies everything", "", "https://store.example.com/api/v1/folders", false},
		{"wildcard subdomain", "*.example.com", "https://store.example.com/api", true},
		{"bare domain covers itself", "example.com", "https://example.com/api", true},
		{"bare domain covers subdomains", "example.com", "https://store.example.com/api", true},
		{"cidr", "10.0.0.0/8", "http://10.1.2.3:8080/api", true},
		{"unmatched host", "*.internal.corp,10.0.0.0/8", "https://bucket.s3.amazonaws.com/", false},
		{"list with spaces, cidr", "*.example.com, 192.168.0.0/16, internal.corp", "http://192.168.1.100/api", true},
		{"list with spaces, domain", "*.example.com, 192.168.0.0/16, internal.corp", "https://internal.corp/status", true},
		{"list with spaces, miss", "*.example.com, 192.168.0.0/16, internal.corp", "https://account.blob.core.windows.net/", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route := proxyFuncWithBypass(proxyURL, tt.noProxy, nil)
			req, err := nethttp.NewRequest(nethttp.MethodGet, tt.target, nil)
			if err != nil {
				t.Fatal(err)
			}
			via, err := route(req)
			if err != nil {
				t.Fatalf("route(%s): %v", tt.target, err)
			}
			if tt.direct {
				if via != nil {
					t.Errorf("%s should bypass the proxy, got %v", tt.target, via)
				}
				return
			}
			if via == nil || via.Host != "proxy.corp:8080" {
				t.Errorf("%s should go through proxy.corp:8080, got %v", tt.target, via)
			}
		})
	}
}
