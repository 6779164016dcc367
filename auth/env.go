package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// EnvConfig is the environment-driven verifier configuration.
type EnvConfig struct {
	// Domain is the IdP tenant domain, e.g. "tenant.us.auth0.com". ENV: AUTH0_DOMAIN
	Domain string `env:"AUTH0_DOMAIN,required"`
	// Audience is the expected aud claim. ENV: AUTH0_AUDIENCE
	Audience string `env:"AUTH0_AUDIENCE,required"`
	// Algorithms is a comma separated allow-list. ENV: AUTH0_ALGORITHMS
	Algorithms string `env:"AUTH0_ALGORITHMS,default=RS256"`
	// Leeway is the clock skew tolerance. ENV: AUTH0_LEEWAY
	Leeway time.Duration `env:"AUTH0_LEEWAY,default=0s,strict"`

	CacheTTL     time.Duration `env:"JWKS_CACHE_TTL,default=10m,strict"`
	FetchTimeout time.Duration `env:"JWKS_FETCH_TIMEOUT,default=10s,strict"`
	// MinRefreshInterval bounds how often unknown key ids can force a fetch
	// from the IdP. A key rotated in within the interval of the previous
	// forced fetch is not seen until the interval passes. Zero disables the
	// limit. ENV: JWKS_MIN_REFRESH_INTERVAL
	MinRefreshInterval time.Duration `env:"JWKS_MIN_REFRESH_INTERVAL,default=5s,strict"`

	// RequiredScopes is consumed by the transport, not by Verify.
	// Space or comma separated. ENV: MCP_REQUIRED_SCOPES
	RequiredScopes string `env:"MCP_REQUIRED_SCOPES,default=mcp:invoke"`
}

// LoadEnvConfig reads EnvConfig from the process environment.
func LoadEnvConfig() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envdecode.Decode(&cfg); err != nil {
		return EnvConfig{}, fmt.Errorf("auth: decode env: %w", err)
	}
	if strings.TrimSpace(cfg.Domain) == "" || strings.TrimSpace(cfg.Audience) == "" {
		return EnvConfig{}, errors.New("auth: AUTH0_DOMAIN and AUTH0_AUDIENCE are required")
	}
	return cfg, nil
}

// AlgorithmList splits Algorithms on commas.
func (c EnvConfig) AlgorithmList() []string { return splitList(c.Algorithms) }

// ScopeList splits RequiredScopes on commas and whitespace.
func (c EnvConfig) ScopeList() []string { return splitList(c.RequiredScopes) }

// Options translates the environment into verifier options.
func (c EnvConfig) Options() []Option {
	opts := []Option{
		WithLeeway(c.Leeway),
		WithCacheTTL(c.CacheTTL),
		WithFetchTimeout(c.FetchTimeout),
		WithMinRefreshInterval(c.MinRefreshInterval),
	}
	if algs := c.AlgorithmList(); len(algs) > 0 {
		opts = append(opts, WithAllowedAlgs(algs...))
	}
	if scopes := c.ScopeList(); len(scopes) > 0 {
		opts = append(opts, WithScopesSupported(scopes...))
	}
	return opts
}

// NewFromEnv loads EnvConfig and builds a domain Verifier. Options in opts
// are applied after the environment-derived ones.
func NewFromEnv(opts ...Option) (*Verifier, EnvConfig, error) {
	cfg, err := LoadEnvConfig()
	if err != nil {
		return nil, EnvConfig{}, err
	}
	v, err := NewForDomain(cfg.Domain, cfg.Audience, append(cfg.Options(), opts...)...)
	if err != nil {
		return nil, EnvConfig{}, err
	}
	return v, cfg, nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}
