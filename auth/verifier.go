package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/ggoodman/mcp-bearer-go/internal/jwtauth"
	"github.com/ggoodman/mcp-bearer-go/internal/logctx"
	"github.com/ggoodman/mcp-bearer-go/internal/metrics"
	"github.com/ggoodman/mcp-bearer-go/jwks"
	"github.com/prometheus/client_golang/prometheus"
)

// Verifier turns raw bearer tokens into AccessDescriptors. It owns the key
// material cache; concurrent Verify calls only contend on the cache's single
// in-flight refresh. Safe for concurrent use.
type Verifier struct {
	sec       SecurityConfig
	cache     *jwks.Cache
	resolver  *jwtauth.Resolver
	validator *jwtauth.Validator
	log       *slog.Logger
	now       func() time.Time

	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New constructs a Verifier from sec. The key set is fetched lazily on the
// first Verify (or Warm).
func New(sec SecurityConfig, opts ...Option) (*Verifier, error) {
	cfg := newConfig(sec, opts)
	return newVerifier(cfg)
}

// NewForDomain constructs a Verifier for a hosted IdP tenant, deriving the
// issuer and key set URL from domain (see DomainSecurityConfig).
func NewForDomain(domain string, audience string, opts ...Option) (*Verifier, error) {
	sec, err := DomainSecurityConfig(domain, audience)
	if err != nil {
		return nil, err
	}
	return New(sec, opts...)
}

// NewFromDiscovery performs OpenID Connect discovery against issuer to learn
// jwks_uri, then constructs a Verifier. Scopes listed in scopes_supported are
// copied into SecurityConfig.ScopesSupported unless already set.
func NewFromDiscovery(ctx context.Context, issuer string, audience string, opts ...Option) (*Verifier, error) {
	if issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if audience == "" {
		return nil, errors.New("audience is required")
	}
	cfg := newConfig(SecurityConfig{Issuer: issuer, Audiences: []string{audience}}, opts)

	dctx := ctx
	if cfg.httpClient != nil {
		dctx = oidc.ClientContext(ctx, cfg.httpClient)
	}
	provider, err := oidc.NewProvider(dctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		JwksURI string   `json:"jwks_uri"`
		Scopes  []string `json:"scopes_supported"`
		Algs    []string `json:"id_token_signing_alg_values_supported"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}
	cfg.sec.JWKSURL = meta.JwksURI
	if len(cfg.sec.ScopesSupported) == 0 {
		cfg.sec.ScopesSupported = append([]string(nil), meta.Scopes...)
	}
	cfg.log.DebugContext(ctx, "auth.discovery.ok", slog.String("issuer", issuer), slog.String("jwks_uri", meta.JwksURI))
	return newVerifier(cfg)
}

func newVerifier(cfg *config) (*Verifier, error) {
	cfg.sec.Normalize()
	if err := cfg.sec.Validate(); err != nil {
		return nil, err
	}

	log := logctx.Wrap(cfg.log)

	src := cfg.source
	if src == nil {
		if cfg.sec.JWKSURL == "" {
			return nil, errors.New("security: JWKSURL required")
		}
		hs, err := jwks.NewHTTPSource(cfg.sec.JWKSURL, cfg.httpClient)
		if err != nil {
			return nil, err
		}
		src = hs
	}
	if cfg.store != nil {
		ttl := cfg.storeTTL
		if ttl <= 0 {
			ttl = cfg.cacheTTL
		}
		src = jwks.NewSharedSource(src, cfg.store, "jwks:"+cfg.sec.Issuer, ttl, log)
	}

	cache := jwks.NewCache(src,
		jwks.WithTTL(cfg.cacheTTL),
		jwks.WithFetchTimeout(cfg.fetchTimeout),
		jwks.WithMinRefreshInterval(cfg.minRefresh),
		jwks.WithLogger(log),
		jwks.WithClock(cfg.now),
		jwks.WithRegisterer(cfg.reg),
	)

	v := &Verifier{
		sec:   cfg.sec,
		cache: cache,
		resolver: jwtauth.NewResolver(cache, jwtauth.ResolverConfig{
			AllowedAlgs:  cfg.sec.AllowedAlgs,
			RequireKeyID: cfg.sec.RequireKeyID,
			RequiredType: cfg.sec.RequiredType,
			Logger:       log,
		}),
		validator: jwtauth.NewValidator(jwtauth.Config{
			Issuer:            cfg.sec.Issuer,
			ExpectedAudiences: cfg.sec.Audiences,
			AllowedAlgs:       cfg.sec.AllowedAlgs,
			Leeway:            cfg.sec.Leeway,
			MaxIssuedAtSkew:   cfg.sec.MaxIssuedAtSkew,
			Now:               cfg.now,
		}),
		log: log,
		now: cfg.now,
		outcomes: metrics.CounterVec(cfg.reg, "auth", "verifications_total",
			"Bearer token verifications by outcome (accepted or the rejection kind).", "outcome"),
		latency: metrics.HistogramVec(cfg.reg, "auth", "verification_duration_seconds",
			"Time spent verifying bearer tokens.", "result"),
	}
	return v, nil
}

// Verify checks token and returns its AccessDescriptor. Every error is a
// *Rejection; a panic anywhere in the pipeline is recovered and reported as
// SignatureInvalid since the token was not verified.
func (v *Verifier) Verify(ctx context.Context, token string) (desc *AccessDescriptor, err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			v.log.ErrorContext(ctx, "auth.verify.panic", slog.Any("panic", p))
			desc, err = nil, reject(SignatureInvalid, "verification fault", nil)
		}
		v.observe(ctx, token, start, desc, err)
	}()

	h, err := jwtauth.ParseHeader(token)
	if err != nil {
		return nil, fromInternal(err)
	}
	key, err := v.resolver.Resolve(ctx, h)
	if err != nil {
		return nil, fromInternal(err)
	}
	claims, err := v.validator.Validate(token, h.Algorithm, key.Public)
	if err != nil {
		return nil, fromInternal(err)
	}
	return newAccessDescriptor(token, claims), nil
}

func (v *Verifier) observe(ctx context.Context, token string, start time.Time, desc *AccessDescriptor, err error) {
	took := time.Since(start)
	if err == nil {
		v.outcomes.WithLabelValues("accepted").Inc()
		v.latency.WithLabelValues("accepted").Observe(took.Seconds())
		v.log.DebugContext(ctx, "auth.verify.ok", slog.Any("access", desc), slog.Duration("took", took))
		return
	}

	kind, _ := KindOf(err)
	v.outcomes.WithLabelValues(kind.String()).Inc()
	v.latency.WithLabelValues("rejected").Observe(took.Seconds())

	attrs := []any{
		slog.String("kind", kind.String()),
		slog.String("token_fp", Fingerprint(token)),
		slog.String("err", err.Error()),
	}
	if kind == KeySourceUnavailable {
		if cause := errors.Unwrap(err); cause != nil {
			attrs = append(attrs, slog.String("cause", cause.Error()))
		}
		v.log.ErrorContext(ctx, "auth.verify.reject", attrs...)
		return
	}
	v.log.InfoContext(ctx, "auth.verify.reject", attrs...)
}

// CheckAuthentication implements Authenticator.
func (v *Verifier) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	desc, err := v.Verify(ctx, tok)
	if err != nil {
		return nil, err
	}
	return desc, nil
}

// SecurityConfig returns a copy of the effective configuration.
func (v *Verifier) SecurityConfig() SecurityConfig { return v.sec.Copy() }

// Warm fetches the key set ahead of the first request.
func (v *Verifier) Warm(ctx context.Context) error {
	if _, err := v.cache.KeySet(ctx, false); err != nil {
		return reject(KeySourceUnavailable, "signing keys unavailable", err)
	}
	return nil
}

// InvalidateKeys marks the cached key set stale; the next verification
// refetches it.
func (v *Verifier) InvalidateKeys() { v.cache.Invalidate() }

// KeysFetchedAt reports when the signing keys in use were fetched. ok is
// false until the first successful fetch.
func (v *Verifier) KeysFetchedAt() (at time.Time, ok bool) { return v.cache.FetchedAt() }

var _ SecurityProvider = (*Verifier)(nil)
