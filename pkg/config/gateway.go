package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/turnstile/pkg/middleware"
)

// GatewayFile is the YAML document holding rules and routes.
type GatewayFile struct {
	RateLimit struct {
		Rules []RuleConfig `yaml:"rules"`
	} `yaml:"rate_limit"`
	Routes []RouteConfig `yaml:"routes"`
}

// RuleConfig is one rate limit rule as written in the gateway file.
type RuleConfig struct {
	Path    string `yaml:"path"`
	ScopeIP bool   `yaml:"scope_ip"`
	Strict  bool   `yaml:"strict"`
	Window  uint   `yaml:"window"`
	Max     uint   `yaml:"max"`
}

// RouteConfig maps a path prefix to an upstream service.
type RouteConfig struct {
	Prefix      string `yaml:"prefix"`
	Upstream    string `yaml:"upstream"`
	StripPrefix bool   `yaml:"strip_prefix"`
}

// LoadGatewayFile reads and parses the gateway file at path. Unknown keys are errors.
func LoadGatewayFile(path string) (*GatewayFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway file: %w", err)
	}
	return ParseGatewayFile(data)
}

// ParseGatewayFile parses a gateway file document.
func ParseGatewayFile(data []byte) (*GatewayFile, error) {
	var file GatewayFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse gateway file: %w", err)
	}
	return &file, nil
}

// Validate checks a single rule.
func (r RuleConfig) Validate() error {
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("path %q must start with /", r.Path)
	}
	if r.Window == 0 {
		return fmt.Errorf("window for %s must be positive", r.Path)
	}
	if r.Max == 0 {
		return fmt.Errorf("max for %s must be positive", r.Path)
	}
	return nil
}

// Rule converts the configuration entry to a middleware rule.
func (r RuleConfig) Rule() middleware.RateLimitRule {
	return middleware.RateLimitRule{
		PathPrefix:      r.Path,
		ScopeByClientIP: r.ScopeIP,
		Strict:          r.Strict,
		WindowSeconds:   r.Window,
		MaxPermits:      r.Max,
	}
}

// Validate checks a single route.
func (r RouteConfig) Validate() error {
	if !strings.HasPrefix(r.Prefix, "/") {
		return fmt.Errorf("prefix %q must start with /", r.Prefix)
	}
	u, err := url.Parse(r.Upstream)
	if err != nil {
		return fmt.Errorf("upstream for %s: %w", r.Prefix, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream for %s must be an absolute http(s) URL", r.Prefix)
	}
	return nil
}

// RateLimitRules returns the configured rules in evaluation order.
func (c *Config) RateLimitRules() []middleware.RateLimitRule {
	rules := make([]middleware.RateLimitRule, 0, len(c.Gateway.Rules))
	for _, r := range c.Gateway.Rules {
		rules = append(rules, r.Rule())
	}
	return rules
}

// LongestWindow returns the largest rule window, or one hour when no rules are set.
func (c *Config) LongestWindow() time.Duration {
	longest := time.Duration(0)
	for _, r := range c.Gateway.Rules {
		if w := time.Duration(r.Window) * time.Second; w > longest {
			longest = w
		}
	}
	if longest == 0 {
		return time.Hour
	}
	return longest
}
