package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"github.com/jonathan/knowledge-brain/internal/config"
)

// Rule limits one route family. A "*" pattern segment matches exactly one path segment and a
// trailing "**" matches any remainder. A Limit of zero leaves the route unlimited.
type Rule struct {
	Name    string
	Method  string
	Pattern string
	Limit   int
	Window  time.Duration
	Burst   int // defaults to Limit when zero
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	IdleTTL         time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	Rules           []Rule
}

// FromSettings builds a limiter config from the server's rate_limit settings and the default route tiers.
func FromSettings(s config.RateLimitConfig) *Config {
	return &Config{
		Enabled:         s.Enabled,
		DefaultLimit:    s.DefaultLimit,
		DefaultWindow:   s.DefaultWindow,
		CleanupInterval: s.CleanupInterval,
		IdleTTL:         time.Hour,
		Whitelist:       toSet(s.Whitelist),
		Blacklist:       toSet(s.Blacklist),
		Rules:           DefaultRules(),
	}
}

// DefaultRules returns the route tiers. Rules are matched in order.
func DefaultRules() []Rule {
	return []Rule{
		// Health and metrics endpoints are never limited
		{Name: "health", Method: http.MethodGet, Pattern: "/health"},
		{Name: "metrics", Method: http.MethodGet, Pattern: "/metrics"},

		// Collaborator-bound operations
		{Name: "assess", Method: http.MethodPost, Pattern: "/subjects/*/assessments", Limit: 30, Window: time.Hour, Burst: 5},
		{Name: "process", Method: http.MethodPost, Pattern: "/subjects/*/process", Limit: 20, Window: time.Hour, Burst: 5},
		{Name: "assemble", Method: http.MethodPost, Pattern: "/subjects/*/assemble", Limit: 20, Window: time.Hour, Burst: 5},
		{Name: "retry", Method: http.MethodPost, Pattern: "/jobs/*/retry", Limit: 60, Window: time.Hour, Burst: 10},

		// Writes
		{Name: "upload", Method: http.MethodPost, Pattern: "/subjects/*/documents", Limit: 100, Window: time.Minute, Burst: 20},
		{Name: "create-subject", Method: http.MethodPost, Pattern: "/subjects", Limit: 100, Window: time.Minute, Burst: 10},
	}
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			set[item] = true
		}
	}
	return set
}
