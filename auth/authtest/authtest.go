// Package authtest provides a fake identity provider for tests: an HTTPS key
// set endpoint with rotation and fetch counting, plus token minting.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// Audience is the default audience minted into tokens.
const Audience = "https://mcp.example.com/mcp"

// IdP is a fake identity provider backed by an httptest TLS server.
type IdP struct {
	t   testing.TB
	srv *httptest.Server

	mu      sync.Mutex
	keys    []signingKey
	publish map[string]bool
	status  int

	fetches atomic.Int32
}

type signingKey struct {
	kid string
	pk  *rsa.PrivateKey
}

// NewIdP starts a provider with one published RS256 key ("key-1"). The server
// serves /.well-known/jwks.json and /.well-known/openid-configuration.
func NewIdP(t testing.TB) *IdP {
	t.Helper()
	p := &IdP{t: t, publish: map[string]bool{}, status: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", p.serveJWKS)
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                   p.Issuer(),
			"jwks_uri":                 p.JWKSURL(),
			"authorization_endpoint":   p.Issuer() + "authorize",
			"token_endpoint":           p.Issuer() + "oauth/token",
			"response_types_supported": []string{"code"},
			"scopes_supported":         []string{"openid", "mcp:invoke"},
		})
	})
	p.srv = httptest.NewTLSServer(mux)
	t.Cleanup(p.srv.Close)
	p.AddKey("key-1")
	return p
}

// Domain returns the host:port of the provider, usable with auth.NewForDomain.
func (p *IdP) Domain() string { return strings.TrimPrefix(p.srv.URL, "https://") }

// Issuer returns "https://<domain>/".
func (p *IdP) Issuer() string { return p.srv.URL + "/" }

// JWKSURL returns the key set URL.
func (p *IdP) JWKSURL() string { return p.srv.URL + "/.well-known/jwks.json" }

// Client returns an HTTP client that trusts the provider's certificate.
func (p *IdP) Client() *http.Client { return p.srv.Client() }

// Fetches returns how many times the key set was requested.
func (p *IdP) Fetches() int { return int(p.fetches.Load()) }

// SetStatus makes the key set endpoint answer with status (and no body)
// until reset with http.StatusOK.
func (p *IdP) SetStatus(status int) {
	p.mu.Lock()
	p.status = status
	p.mu.Unlock()
}

// AddKey generates and publishes a new RS256 key.
func (p *IdP) AddKey(kid string) {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, signingKey{kid: kid, pk: genRSA(p.t)})
	p.publish[kid] = true
}

// AddUnpublishedKey generates a key that can sign tokens but never appears
// in the key set.
func (p *IdP) AddUnpublishedKey(kid string) {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, signingKey{kid: kid, pk: genRSA(p.t)})
}

// RotateKey publishes a new key and retires the previously newest one.
func (p *IdP) RotateKey(newKID string) {
	p.mu.Lock()
	var prev string
	for i := len(p.keys) - 1; i >= 0; i-- {
		if p.publish[p.keys[i].kid] {
			prev = p.keys[i].kid
			break
		}
	}
	p.mu.Unlock()
	p.AddKey(newKID)
	if prev != "" {
		p.RemoveKey(prev)
	}
}

// RemoveKey stops publishing kid. Tokens can still be minted with it.
func (p *IdP) RemoveKey(kid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.publish, kid)
}

func (p *IdP) serveJWKS(w http.ResponseWriter, r *http.Request) {
	p.fetches.Add(1)
	p.mu.Lock()
	status := p.status
	set := jose.JSONWebKeySet{}
	for _, k := range p.keys {
		if p.publish[k.kid] {
			set.Keys = append(set.Keys, jose.JSONWebKey{Key: &k.pk.PublicKey, KeyID: k.kid, Algorithm: "RS256", Use: "sig"})
		}
	}
	p.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(set)
}

// Claims returns a valid claim set for subject with the given scope string.
func (p *IdP) Claims(subject string, scope string) jwt.MapClaims {
	now := time.Now()
	c := jwt.MapClaims{
		"iss": p.Issuer(),
		"sub": subject,
		"aud": Audience,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	if scope != "" {
		c["scope"] = scope
	}
	return c
}

// MintOption adjusts how a token is signed.
type MintOption func(*mintConfig)

type mintConfig struct {
	kid      string
	omitKID  bool
	typ      string
	tamper   bool
	hmacWith []byte
}

// WithKID signs with the named key (default: the newest key).
func WithKID(kid string) MintOption { return func(c *mintConfig) { c.kid = kid } }

// WithoutKID omits the kid header.
func WithoutKID() MintOption { return func(c *mintConfig) { c.omitKID = true } }

// WithType sets the typ header.
func WithType(typ string) MintOption { return func(c *mintConfig) { c.typ = typ } }

// WithBadSignature corrupts the signature.
func WithBadSignature() MintOption { return func(c *mintConfig) { c.tamper = true } }

// WithHS256 signs with HMAC using secret, for algorithm confusion tests.
func WithHS256(secret []byte) MintOption { return func(c *mintConfig) { c.hmacWith = secret } }

// Mint signs claims. It fails the test on error.
func (p *IdP) Mint(claims jwt.MapClaims, opts ...MintOption) string {
	p.t.Helper()
	var mc mintConfig
	for _, o := range opts {
		o(&mc)
	}

	p.mu.Lock()
	key := p.keys[len(p.keys)-1]
	if mc.kid != "" {
		found := false
		for _, k := range p.keys {
			if k.kid == mc.kid {
				key, found = k, true
				break
			}
		}
		if !found {
			p.mu.Unlock()
			p.t.Fatalf("authtest: unknown kid %q", mc.kid)
		}
	}
	p.mu.Unlock()

	var tok *jwt.Token
	var signKey any = key.pk
	if mc.hmacWith != nil {
		tok = jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signKey = mc.hmacWith
	} else {
		tok = jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	}
	if !mc.omitKID {
		tok.Header["kid"] = key.kid
	}
	if mc.typ != "" {
		tok.Header["typ"] = mc.typ
	}
	s, err := tok.SignedString(signKey)
	if err != nil {
		p.t.Fatalf("authtest: sign: %v", err)
	}
	if mc.tamper {
		b := []byte(s)
		i := len(b) - 5
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		s = string(b)
	}
	return s
}

func genRSA(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("authtest: gen key: %v", err)
	}
	return pk
}
