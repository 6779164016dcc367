package auth

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/mcp-bearer-go/jwks"
	"github.com/ggoodman/mcp-bearer-go/keystore"
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Verifier.
type Option func(*config)

type config struct {
	sec SecurityConfig

	httpClient *http.Client
	source     jwks.Source
	store      keystore.Store
	storeTTL   time.Duration

	cacheTTL     time.Duration
	fetchTimeout time.Duration
	minRefresh   time.Duration

	log *slog.Logger
	reg prometheus.Registerer
	now func() time.Time
}

func newConfig(sec SecurityConfig, opts []Option) *config {
	c := &config{
		sec: sec.Copy(),
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithAllowedAlgs restricts allowed JWS algorithms. "none" and HMAC
// algorithms are never allowed. Defaults to ["RS256"].
func WithAllowedAlgs(algs ...string) Option {
	return func(c *config) { c.sec.AllowedAlgs = append([]string(nil), algs...) }
}

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) Option {
	return func(c *config) { c.sec.Leeway = d }
}

// WithMaxIssuedAtSkew bounds how far in the future iat may be.
func WithMaxIssuedAtSkew(d time.Duration) Option {
	return func(c *config) { c.sec.MaxIssuedAtSkew = d }
}

// WithRequiredType requires the header typ to equal typ (e.g. "at+jwt").
func WithRequiredType(typ string) Option {
	return func(c *config) { c.sec.RequiredType = typ }
}

// WithRequireKeyID rejects tokens without a kid header instead of selecting
// the first key compatible with the algorithm.
func WithRequireKeyID() Option {
	return func(c *config) { c.sec.RequireKeyID = true }
}

// WithAudiences adds accepted audiences after the primary one.
func WithAudiences(aud ...string) Option {
	return func(c *config) { c.sec.Audiences = append(c.sec.Audiences, aud...) }
}

// WithScopesSupported sets the scopes advertised in resource metadata.
func WithScopesSupported(scopes ...string) Option {
	return func(c *config) { c.sec.ScopesSupported = append([]string(nil), scopes...) }
}

// WithHTTPClient sets the client used for discovery and key fetches.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithKeySource replaces the HTTPS key fetch, e.g. with a fake IdP in tests.
func WithKeySource(src jwks.Source) Option {
	return func(c *config) { c.source = src }
}

// WithKeyStore shares fetched key sets through store for ttl so that several
// replicas hit the IdP once. A ttl <= 0 uses the cache TTL.
func WithKeyStore(store keystore.Store, ttl time.Duration) Option {
	return func(c *config) {
		c.store = store
		c.storeTTL = ttl
	}
}

// WithCacheTTL sets how long a fetched key set is served before refetching.
func WithCacheTTL(d time.Duration) Option {
	return func(c *config) { c.cacheTTL = d }
}

// WithFetchTimeout bounds each key set fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *config) { c.fetchTimeout = d }
}

// WithMinRefreshInterval rate limits refreshes triggered by unknown key ids.
func WithMinRefreshInterval(d time.Duration) Option {
	return func(c *config) { c.minRefresh = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRegisterer registers verification and fetch metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.reg = reg }
}

// WithClock overrides time.Now for claim validation and caching.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}
