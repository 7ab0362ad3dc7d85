package ratelimit

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/rescale/rescale-drive/internal/logging"
)

// Scope groups drive API endpoints that share one limiter.
type Scope string

const (
	// ScopeRead: listings, item lookups, quota.
	ScopeRead Scope = "read"
	// ScopeWrite: folder creation and deletion.
	ScopeWrite Scope = "write"
	// ScopeTransfer: file bodies going up or down, previews included.
	ScopeTransfer Scope = "transfer"
)

type ScopeConfig struct {
	Scope         Scope
	TargetRate    float64
	BurstCapacity float64
}

// EndpointRule assigns requests whose path contains Pattern (and whose
// method equals Method, when set) to Scope.
type EndpointRule struct {
	Pattern string
	Method  string
	Scope   Scope
}

// rank orders rules so method-specific ones are tried first, then longer
// patterns before shorter ones.
func (r EndpointRule) rank() (bool, int) {
	return r.Method != "", len(r.Pattern)
}

func (r EndpointRule) matches(method, path string) bool {
	if !strings.Contains(path, r.Pattern) {
		return false
	}
	return r.Method == "" || strings.EqualFold(r.Method, method)
}

var driveRules = []EndpointRule{
	{Pattern: "/api/drive/upload", Scope: ScopeTransfer},
	{Pattern: "/api/drive/download", Scope: ScopeTransfer},
	{Pattern: "/api/drive/preview", Scope: ScopeTransfer},
	{Pattern: "/api/drive/create-folder", Scope: ScopeWrite},
	{Pattern: "/api/drive", Method: http.MethodDelete, Scope: ScopeWrite},
	{Pattern: "/api/drive", Scope: ScopeRead},
}

// Registry resolves a request to its scope and hands out the one limiter
// each scope shares across the client.
type Registry struct {
	rules    []EndpointRule
	scopes   map[Scope]ScopeConfig
	fallback Scope
	logger   *logging.Logger

	mu       sync.Mutex
	limiters map[Scope]*RateLimiter
}

// NewRegistry configures the drive API scopes. Reads get rate and burst;
// writes and transfers get half of each, with a burst of at least one.
// A rate of zero or less turns throttling off.
func NewRegistry(rate, burst float64, logger *logging.Logger) *Registry {
	slowBurst := max(burst/2, 1)
	r := &Registry{
		rules: append([]EndpointRule(nil), driveRules...),
		scopes: map[Scope]ScopeConfig{
			ScopeRead:     {ScopeRead, rate, burst},
			ScopeWrite:    {ScopeWrite, rate / 2, slowBurst},
			ScopeTransfer: {ScopeTransfer, rate / 2, slowBurst},
		},
		fallback: ScopeRead,
		logger:   logging.OrNop(logger),
		limiters: make(map[Scope]*RateLimiter),
	}
	sort.SliceStable(r.rules, func(i, j int) bool {
		mi, li := r.rules[i].rank()
		mj, lj := r.rules[j].rank()
		if mi != mj {
			return mi
		}
		return li > lj
	})
	return r
}

// ResolveScope returns the scope of the first matching rule, or the read
// scope when nothing matches.
func (r *Registry) ResolveScope(method, path string) Scope {
	for _, rule := range r.rules {
		if rule.matches(method, path) {
			return rule.Scope
		}
	}
	return r.fallback
}

// Limiter returns the limiter for scope, creating it on first use. It
// returns nil when the scope is not throttled.
func (r *Registry) Limiter(scope Scope) *RateLimiter {
	cfg := r.GetScopeConfig(scope)
	if cfg.TargetRate <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[cfg.Scope]
	if !ok {
		l = NewRateLimiter(cfg.TargetRate, cfg.BurstCapacity)
		l.SetLogger(r.logger)
		r.limiters[cfg.Scope] = l
	}
	return l
}

// GetScopeConfig falls back to the read scope for unknown names.
func (r *Registry) GetScopeConfig(scope Scope) ScopeConfig {
	if cfg, ok := r.scopes[scope]; ok {
		return cfg
	}
	return r.scopes[r.fallback]
}

// ScopeDisplayString formats a scope for log lines, e.g. "read (10.00/sec, burst 20)".
func (r *Registry) ScopeDisplayString(scope Scope) string {
	cfg, ok := r.scopes[scope]
	if !ok {
		return fmt.Sprintf("%s (unknown scope)", scope)
	}
	return fmt.Sprintf("%s (%.2f/sec, burst %.0f)", scope, cfg.TargetRate, cfg.BurstCapacity)
}
