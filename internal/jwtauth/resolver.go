package jwtauth

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/ggoodman/mcp-bearer-go/jwks"
)

// KeyCache is the view of the key material cache the resolver needs.
type KeyCache interface {
	KeySet(ctx context.Context, forceRefresh bool) (*jwks.KeySet, error)
}

// refresher is implemented by caches that can skip a forced refresh when the
// set has already been replaced since the caller looked at it.
type refresher interface {
	Refresh(ctx context.Context, seen *jwks.KeySet) (*jwks.KeySet, error)
}

// ResolverConfig controls key selection.
type ResolverConfig struct {
	// AllowedAlgs is the algorithm allow-list. Required.
	AllowedAlgs []string
	// RequireKeyID rejects tokens whose header has no kid instead of
	// selecting the first compatible key.
	RequireKeyID bool
	// RequiredType, when set, must equal the header typ (case-insensitive,
	// with or without the "application/" prefix).
	RequiredType string
	Logger       *slog.Logger
}

// Resolver selects the verification key for a token header.
type Resolver struct {
	cache   KeyCache
	cfg     ResolverConfig
	allowed map[string]struct{}
	log     *slog.Logger
}

// NewResolver returns a Resolver over cache.
func NewResolver(cache KeyCache, cfg ResolverConfig) *Resolver {
	allowed := make(map[string]struct{}, len(cfg.AllowedAlgs))
	for _, a := range cfg.AllowedAlgs {
		allowed[a] = struct{}{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{cache: cache, cfg: cfg, allowed: allowed, log: log}
}

// Resolve returns the key matching h. A miss triggers exactly one forced
// refresh of the cache before failing with KindNoMatchingKey.
func (r *Resolver) Resolve(ctx context.Context, h Header) (jwks.Key, error) {
	if h.Algorithm == "" {
		return jwks.Key{}, fail(KindMalformedHeader, "missing alg", nil)
	}
	if _, ok := r.allowed[h.Algorithm]; !ok {
		return jwks.Key{}, fail(KindSignatureInvalid, "algorithm "+h.Algorithm+" not allowed", nil)
	}
	if r.cfg.RequireKeyID && h.KeyID == "" {
		return jwks.Key{}, fail(KindMalformedHeader, "missing kid", nil)
	}
	if r.cfg.RequiredType != "" && !typeMatches(h.Type, r.cfg.RequiredType) {
		return jwks.Key{}, fail(KindMalformedHeader, "unexpected typ", nil)
	}

	set, err := r.cache.KeySet(ctx, false)
	if err != nil {
		return jwks.Key{}, fail(KindKeySourceUnavailable, "signing keys unavailable", err)
	}
	if key, ok := selectKey(set, h); ok {
		return checkAlg(key, h.Algorithm)
	}

	r.log.DebugContext(ctx, "jwtauth.resolve.refresh", slog.String("kid", h.KeyID), slog.String("alg", h.Algorithm))
	if rf, ok := r.cache.(refresher); ok {
		set, err = rf.Refresh(ctx, set)
	} else {
		set, err = r.cache.KeySet(ctx, true)
	}
	if err != nil {
		return jwks.Key{}, fail(KindKeySourceUnavailable, "signing keys unavailable", err)
	}
	if key, ok := selectKey(set, h); ok {
		return checkAlg(key, h.Algorithm)
	}
	if h.KeyID == "" {
		return jwks.Key{}, fail(KindNoMatchingKey, "no key for algorithm "+h.Algorithm, nil)
	}
	return jwks.Key{}, fail(KindNoMatchingKey, "no key with the token's kid", nil)
}

func selectKey(set *jwks.KeySet, h Header) (jwks.Key, bool) {
	if h.KeyID != "" {
		return set.Lookup(h.KeyID)
	}
	return set.FirstForAlg(h.Algorithm)
}

// checkAlg rejects a kid match whose key cannot verify the header algorithm,
// which covers keys declared for a different alg.
func checkAlg(key jwks.Key, alg string) (jwks.Key, error) {
	if !key.Supports(alg) {
		return jwks.Key{}, fail(KindSignatureInvalid, "key does not support algorithm "+alg, nil)
	}
	return key, nil
}

func typeMatches(have, want string) bool {
	norm := func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), "application/")
	}
	return norm(have) == norm(want)
}
