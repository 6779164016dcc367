package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ggoodman/mcp-bearer-go/internal/jwtauth"
)

// SecurityConfig describes how this resource validates bearer tokens and
// what it may advertise about that. Verifier.SecurityConfig returns a copy.
//
// A zero value is invalid; populate Issuer, Audiences and JWKSURL then call
// Normalize and Validate (New does both).
type SecurityConfig struct {
	Issuer      string
	Audiences   []string
	AllowedAlgs []string // default: ["RS256"] if empty
	JWKSURL     string   // required unless a key source is injected

	Leeway          time.Duration // clock skew tolerance (default 0)
	MaxIssuedAtSkew time.Duration // how far iat may lie in the future (default 5m)

	// RequiredType, when set, must match the header typ (e.g. "at+jwt").
	RequiredType string
	// RequireKeyID rejects tokens without a kid header.
	RequireKeyID bool

	// ScopesSupported is advertisement-only (protected resource metadata).
	ScopesSupported []string
}

// asymmetricAlgs are the only algorithms that make sense against a JWKS.
var asymmetricAlgs = map[string]bool{
	"RS256": true, "RS384": true, "RS512": true,
	"PS256": true, "PS384": true, "PS512": true,
	"ES256": true, "ES384": true, "ES512": true,
	"EdDSA": true,
}

// Normalize fills defaults.
func (c *SecurityConfig) Normalize() {
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if c.MaxIssuedAtSkew <= 0 {
		c.MaxIssuedAtSkew = jwtauth.DefaultMaxIssuedAtSkew
	}
	if c.Leeway < 0 {
		c.Leeway = 0
	}
}

// Validate returns an error if required invariants are not met.
func (c SecurityConfig) Validate() error {
	var errs []error
	if c.Issuer == "" {
		errs = append(errs, errors.New("security: issuer required"))
	}
	if len(c.Audiences) == 0 {
		errs = append(errs, errors.New("security: at least one audience required"))
	}
	for _, a := range c.Audiences {
		if a == "" {
			errs = append(errs, errors.New("security: empty audience entry"))
			break
		}
	}
	for _, alg := range c.AllowedAlgs {
		if !asymmetricAlgs[alg] {
			errs = append(errs, fmt.Errorf("security: algorithm %q is not an allowed asymmetric signature algorithm", alg))
		}
	}
	if c.JWKSURL != "" {
		if _, err := url.Parse(c.JWKSURL); err != nil {
			errs = append(errs, fmt.Errorf("security: invalid jwks url: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Copy returns a deep copy safe for mutation by the caller.
func (c SecurityConfig) Copy() SecurityConfig {
	dup := c
	dup.Audiences = append([]string(nil), c.Audiences...)
	dup.AllowedAlgs = append([]string(nil), c.AllowedAlgs...)
	dup.ScopesSupported = append([]string(nil), c.ScopesSupported...)
	return dup
}

// DomainSecurityConfig derives the issuer and JWKS URL for a hosted IdP
// tenant domain: issuer "https://<domain>/" and keys at
// "https://<domain>/.well-known/jwks.json". A scheme prefix or trailing
// slash on domain is tolerated.
func DomainSecurityConfig(domain string, audience string) (SecurityConfig, error) {
	d := strings.TrimSpace(domain)
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimSuffix(d, "/")
	if d == "" || strings.ContainsAny(d, "/?#@ ") {
		return SecurityConfig{}, fmt.Errorf("security: invalid domain %q", domain)
	}
	issuer := "https://" + d + "/"
	return SecurityConfig{
		Issuer:    issuer,
		Audiences: []string{audience},
		JWKSURL:   issuer + ".well-known/jwks.json",
	}, nil
}

// SecurityDescriptor exposes security configuration for transports to advertise.
type SecurityDescriptor interface{ SecurityConfig() SecurityConfig }

// SecurityProvider combines validation + descriptor. Returned by constructors.
type SecurityProvider interface {
	Authenticator
	TokenVerifier
	SecurityDescriptor
}
