// Package authhttp puts an auth.TokenVerifier in front of an HTTP handler.
//
// Middleware extracts RFC 6750 bearer credentials, verifies them, applies an
// optional scope policy and answers failures with a Bearer challenge that
// points at the RFC 9728 metadata document served by ProtectedResource.
// TokenVerifier adapts the same verifier to the go-sdk bearer middleware.
package authhttp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ggoodman/mcp-bearer-go/auth"
	"github.com/ggoodman/mcp-bearer-go/internal/logctx"
	"github.com/google/uuid"
)

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"
	// RequestIDHeader is honoured on the way in and echoed on the way out.
	RequestIDHeader = "X-Request-Id"
)

// Option configures Middleware.
type Option func(*config)

type config struct {
	realm       string
	metadataURL string
	required    []string
	mode        auth.ScopeMode
	log         *slog.Logger
}

// WithRealm sets the realm advertised in challenges.
func WithRealm(realm string) Option {
	return func(c *config) { c.realm = realm }
}

// WithResourceMetadataURL sets the resource_metadata challenge parameter.
func WithResourceMetadataURL(u string) Option {
	return func(c *config) { c.metadataURL = u }
}

// WithRequiredScopes requires every listed scope; otherwise 403.
func WithRequiredScopes(scopes ...string) Option {
	return func(c *config) {
		c.required = append([]string(nil), scopes...)
		c.mode = auth.ScopeModeAll
	}
}

// WithAnyRequiredScope requires at least one of scopes.
func WithAnyRequiredScope(scopes ...string) Option {
	return func(c *config) {
		c.required = append([]string(nil), scopes...)
		c.mode = auth.ScopeModeAny
	}
}

// WithLogger sets the logger. It is wrapped so request and auth attributes
// are attached to every record.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}

type descriptorKey struct{}

// DescriptorFromContext returns the descriptor stored by Middleware.
func DescriptorFromContext(ctx context.Context) (*auth.AccessDescriptor, bool) {
	d, ok := ctx.Value(descriptorKey{}).(*auth.AccessDescriptor)
	return d, ok && d != nil
}

// ContextWithDescriptor stores desc on ctx.
func ContextWithDescriptor(ctx context.Context, desc *auth.AccessDescriptor) context.Context {
	return context.WithValue(ctx, descriptorKey{}, desc)
}

// Middleware verifies the bearer token of every request before calling the
// wrapped handler:
//
//   - no Authorization header: 401 with a bare Bearer challenge
//   - malformed header: 400 invalid_request
//   - rejected token: 401 invalid_token
//   - scope policy not met: 403 insufficient_scope
//
// On success the AccessDescriptor is available via DescriptorFromContext.
func Middleware(v auth.TokenVerifier, opts ...Option) func(http.Handler) http.Handler {
	cfg := &config{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(cfg)
	}
	log := logctx.Wrap(cfg.log)
	params := auth.ChallengeParams{
		Realm:               cfg.realm,
		ResourceMetadataURL: cfg.metadataURL,
		Scope:               strings.Join(cfg.required, " "),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" || len(reqID) > 128 {
				// Keep an id assigned by an outer handler.
				if rd, ok := logctx.RequestDataFrom(r.Context()); ok && rd.RequestID != "" {
					reqID = rd.RequestID
				} else {
					reqID = uuid.NewString()
				}
			}
			w.Header().Set(RequestIDHeader, reqID)
			ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
				RequestID:  reqID,
				Method:     r.Method,
				UserAgent:  r.UserAgent(),
				RemoteAddr: r.RemoteAddr,
				Path:       r.URL.Path,
			})

			tok, problem := bearerToken(r.Header.Get(authorizationHeader))
			switch {
			case problem == errMissing:
				log.InfoContext(ctx, "auth.check.missing")
				writeChallenge(w, auth.NewAuthenticationRequired(params))
				return
			case problem != "":
				log.InfoContext(ctx, "auth.check.invalid", slog.String("err", problem))
				writeChallenge(w, auth.NewInvalidAuthorizationHeader(params, problem))
				return
			}

			ad := &logctx.AuthData{TokenFingerprint: auth.Fingerprint(tok)}
			ctx = logctx.WithAuthData(ctx, ad)

			desc, err := v.Verify(ctx, tok)
			if err != nil {
				kind, _ := auth.KindOf(err)
				ad.Rejection = kind.String()
				if kind == auth.KeySourceUnavailable {
					log.ErrorContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
				} else {
					log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
				}
				writeChallenge(w, auth.ChallengeFor(err, params))
				return
			}
			ad.Subject = desc.Subject()
			ad.ClientID = desc.ClientID()

			if err := auth.RequireScopes(desc, cfg.mode, cfg.required...); err != nil {
				ad.Rejection = auth.InsufficientScope.String()
				log.InfoContext(ctx, "auth.check.forbidden", slog.Any("scopes", desc.Scopes()))
				writeChallenge(w, auth.ChallengeFor(err, params))
				return
			}

			log.DebugContext(ctx, "auth.check.ok")
			next.ServeHTTP(w, r.WithContext(ContextWithDescriptor(ctx, desc)))
		})
	}
}

const errMissing = "missing"

// bearerToken extracts the credential from an Authorization header value.
// The second result is empty on success, errMissing when there is no header
// and a client-facing description otherwise.
func bearerToken(h string) (string, string) {
	if h == "" {
		return "", errMissing
	}
	scheme, rest, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "malformed bearer authorization header"
	}
	tok := strings.TrimSpace(rest)
	if tok == "" {
		return "", "empty bearer token"
	}
	if strings.ContainsAny(tok, " \t") {
		return "", "malformed bearer authorization header"
	}
	return tok, ""
}

func writeChallenge(w http.ResponseWriter, c *auth.AuthenticationChallenge) {
	w.Header().Add(wwwAuthenticateHeader, c.WWWAuthenticate)
	w.WriteHeader(c.Status)
}
