package authhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/mcp-bearer-go/auth"
	"github.com/ggoodman/mcp-bearer-go/auth/authtest"
	"github.com/ggoodman/mcp-bearer-go/internal/logctx"
	sdkauth "github.com/modelcontextprotocol/go-sdk/auth"
)

const metadataURL = "https://mcp.example.com/.well-known/oauth-protected-resource/mcp"

type countingVerifier struct {
	inner auth.TokenVerifier
	calls atomic.Int32
}

func (c *countingVerifier) Verify(ctx context.Context, token string) (*auth.AccessDescriptor, error) {
	c.calls.Add(1)
	return c.inner.Verify(ctx, token)
}

func newVerifier(t *testing.T, idp *authtest.IdP) *countingVerifier {
	t.Helper()
	v, err := auth.NewForDomain(idp.Domain(), authtest.Audience, auth.WithHTTPClient(idp.Client()))
	if err != nil {
		t.Fatalf("NewForDomain: %v", err)
	}
	return &countingVerifier{inner: v}
}

// okHandler records the descriptor it was called with.
func okHandler(got **auth.AccessDescriptor) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d, ok := DescriptorFromContext(r.Context()); ok {
			*got = d
		}
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "https://mcp.example.com/mcp", strings.NewReader(`{}`))
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware(t *testing.T) {
	idp := authtest.NewIdP(t)
	v := newVerifier(t, idp)

	var got *auth.AccessDescriptor
	h := Middleware(v,
		WithRealm("mcp"),
		WithResourceMetadataURL(metadataURL),
		WithRequiredScopes("mcp:invoke"),
	)(okHandler(&got))

	t.Run("missing header", func(t *testing.T) {
		rec := serve(h, "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
		want := `Bearer realm="mcp", resource_metadata="` + metadataURL + `"`
		if wa := rec.Header().Get("WWW-Authenticate"); wa != want {
			t.Fatalf("challenge = %q, want %q", wa, want)
		}
	})

	t.Run("wrong scheme", func(t *testing.T) {
		rec := serve(h, "Basic dXNlcjpwYXNz")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
		if wa := rec.Header().Get("WWW-Authenticate"); !strings.Contains(wa, `error="invalid_request"`) {
			t.Fatalf("challenge = %q", wa)
		}
	})

	t.Run("empty token", func(t *testing.T) {
		if rec := serve(h, "Bearer   "); rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := serve(h, "Bearer not-a-jwt")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
		if wa := rec.Header().Get("WWW-Authenticate"); !strings.Contains(wa, `error="invalid_token"`) {
			t.Fatalf("challenge = %q", wa)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		claims := idp.Claims("u", "mcp:invoke")
		claims["exp"] = time.Now().Add(-time.Minute).Unix()
		claims["iat"] = time.Now().Add(-time.Hour).Unix()
		rec := serve(h, "Bearer "+idp.Mint(claims))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
		if wa := rec.Header().Get("WWW-Authenticate"); !strings.Contains(wa, `error_description="the access token expired"`) {
			t.Fatalf("challenge = %q", wa)
		}
	})

	t.Run("missing scope", func(t *testing.T) {
		rec := serve(h, "Bearer "+idp.Mint(idp.Claims("u", "read")))
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d", rec.Code)
		}
		wa := rec.Header().Get("WWW-Authenticate")
		if !strings.Contains(wa, `error="insufficient_scope"`) || !strings.Contains(wa, `scope="mcp:invoke"`) {
			t.Fatalf("challenge = %q", wa)
		}
	})

	t.Run("accepted", func(t *testing.T) {
		got = nil
		tok := idp.Mint(idp.Claims("user-42", "mcp:invoke read"))
		rec := serve(h, "bearer "+tok)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d (%s)", rec.Code, rec.Header().Get("WWW-Authenticate"))
		}
		if got == nil || got.Subject() != "user-42" || got.Token() != tok {
			t.Fatalf("descriptor not propagated: %v", got)
		}
		if rec.Header().Get(RequestIDHeader) == "" {
			t.Fatal("expected a generated request id")
		}
	})
}

func TestMiddleware_AnyScope(t *testing.T) {
	idp := authtest.NewIdP(t)
	v := newVerifier(t, idp)
	var got *auth.AccessDescriptor
	h := Middleware(v, WithAnyRequiredScope("admin", "read"))(okHandler(&got))

	if rec := serve(h, "Bearer "+idp.Mint(idp.Claims("u", "read"))); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := serve(h, "Bearer "+idp.Mint(idp.Claims("u", "write"))); rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMiddleware_RequestIDAndLogging(t *testing.T) {
	idp := authtest.NewIdP(t)
	idp.SetStatus(http.StatusBadGateway)
	v := newVerifier(t, idp)

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	var got *auth.AccessDescriptor
	h := Middleware(v, WithLogger(log))(okHandler(&got))

	tok := idp.Mint(idp.Claims("u", ""))
	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if wa := rec.Header().Get("WWW-Authenticate"); strings.Contains(wa, "502") || !strings.Contains(wa, "unable to verify token") {
		t.Fatalf("challenge = %q", wa)
	}
	if rec.Header().Get(RequestIDHeader) != "req-123" {
		t.Fatalf("request id = %q", rec.Header().Get(RequestIDHeader))
	}

	out := buf.String()
	if strings.Contains(out, tok) {
		t.Fatal("token leaked into logs")
	}
	var rec0 struct {
		Level string `json:"level"`
		Msg   string `json:"msg"`
		Req   struct {
			ID string `json:"id"`
		} `json:"req"`
		Auth struct {
			TokenFP   string `json:"token_fp"`
			Rejection string `json:"rejection"`
		} `json:"auth"`
	}
	var found bool
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if err := json.Unmarshal([]byte(line), &rec0); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		if rec0.Msg == "auth.check.fail" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("no auth.check.fail record in %s", out)
	}
	if rec0.Level != "ERROR" || rec0.Req.ID != "req-123" || rec0.Auth.Rejection != "key_source_unavailable" || rec0.Auth.TokenFP != auth.Fingerprint(tok) {
		t.Fatalf("unexpected record %+v", rec0)
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		in      string
		tok     string
		problem bool
	}{
		{"Bearer abc", "abc", false},
		{"BEARER abc", "abc", false},
		{"Bearer  abc ", "abc", false},
		{"Bearer", "", true},
		{"Bearer a b", "", true},
		{"Token abc", "", true},
	}
	for _, tc := range cases {
		tok, problem := bearerToken(tc.in)
		if tok != tc.tok || (problem != "") != tc.problem {
			t.Fatalf("%q: got (%q, %q)", tc.in, tok, problem)
		}
	}
	if _, problem := bearerToken(""); problem != errMissing {
		t.Fatalf("empty header: %q", problem)
	}
}

func TestTokenVerifier_ReusesMiddlewareResult(t *testing.T) {
	idp := authtest.NewIdP(t)
	v := newVerifier(t, idp)

	var desc *auth.AccessDescriptor
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ti := sdkauth.TokenInfoFromContext(r.Context())
		d, ok := DescriptorFromTokenInfo(ti)
		if !ok {
			http.Error(w, "no descriptor", http.StatusInternalServerError)
			return
		}
		desc = d
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(v, WithRequiredScopes("mcp:invoke"))(
		sdkauth.RequireBearerToken(TokenVerifier(v), &sdkauth.RequireBearerTokenOptions{Scopes: []string{"mcp:invoke"}})(final),
	)

	rec := serve(h, "Bearer "+idp.Mint(idp.Claims("u", "mcp:invoke")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if desc == nil || desc.Subject() != "u" {
		t.Fatalf("descriptor = %v", desc)
	}
	if n := v.calls.Load(); n != 1 {
		t.Fatalf("expected a single verification, got %d", n)
	}
}

func TestTokenVerifier_Standalone(t *testing.T) {
	idp := authtest.NewIdP(t)
	v := newVerifier(t, idp)
	tv := TokenVerifier(v)

	ti, err := tv(context.Background(), idp.Mint(idp.Claims("u", "mcp:invoke read")), nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if len(ti.Scopes) != 2 || ti.Expiration.IsZero() || ti.Extra["sub"] != "u" {
		t.Fatalf("token info = %+v", ti)
	}

	_, err = tv(context.Background(), "junk", nil)
	if !errors.Is(err, sdkauth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if !errors.Is(err, auth.ErrMalformedHeader) || !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("expected the rejection to stay reachable, got %v", err)
	}

	// A descriptor for a different token on the context is not reused.
	other, err := v.Verify(context.Background(), idp.Mint(idp.Claims("other", "")))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	ctx := ContextWithDescriptor(context.Background(), other)
	ti, err = tv(ctx, idp.Mint(idp.Claims("me", "")), nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if d, _ := DescriptorFromTokenInfo(ti); d.Subject() != "me" {
		t.Fatalf("subject = %q", d.Subject())
	}

	if _, ok := DescriptorFromTokenInfo(nil); ok {
		t.Fatal("nil token info has no descriptor")
	}
	if _, ok := DescriptorFromTokenInfo(&sdkauth.TokenInfo{}); ok {
		t.Fatal("foreign token info has no descriptor")
	}
}

func TestMiddleware_KeepsOuterRequestID(t *testing.T) {
	idp := authtest.NewIdP(t)
	var got *auth.AccessDescriptor
	h := Middleware(newVerifier(t, idp))(okHandler(&got))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req = req.WithContext(logctx.WithRequestData(req.Context(), &logctx.RequestData{RequestID: "outer-1"}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if id := rec.Header().Get(RequestIDHeader); id != "outer-1" {
		t.Fatalf("request id = %q, want outer-1", id)
	}
}
