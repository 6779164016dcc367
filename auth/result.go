package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AuthenticationChallenge describes an HTTP challenge (status + WWW-Authenticate header).
type AuthenticationChallenge struct {
	Status          int
	WWWAuthenticate string
}

// ChallengeParams carries the resource-level values echoed in every challenge.
type ChallengeParams struct {
	Realm string
	// ResourceMetadataURL is the RFC 9728 protected resource metadata document.
	ResourceMetadataURL string
	// Scope, if set, is echoed on insufficient_scope challenges.
	Scope string
}

// NewAuthenticationRequired builds the bare challenge sent when no credentials
// were presented. Per RFC 6750 §3.1 it carries no error code.
func NewAuthenticationRequired(p ChallengeParams) *AuthenticationChallenge {
	return &AuthenticationChallenge{
		Status:          http.StatusUnauthorized,
		WWWAuthenticate: BearerChallenge(p, nil),
	}
}

// NewInvalidAuthorizationHeader builds a challenge for a malformed Authorization header.
func NewInvalidAuthorizationHeader(p ChallengeParams, description string) *AuthenticationChallenge {
	return &AuthenticationChallenge{
		Status: http.StatusBadRequest,
		WWWAuthenticate: BearerChallenge(p, [][2]string{
			{"error", "invalid_request"},
			{"error_description", description},
		}),
	}
}

// ChallengeFor maps a verification or scope error to its challenge. Rejections
// become 401 invalid_token, InsufficientScope becomes 403 and anything else
// is treated as an invalid token as well.
func ChallengeFor(err error, p ChallengeParams) *AuthenticationChallenge {
	var r *Rejection
	if !errors.As(err, &r) {
		return &AuthenticationChallenge{
			Status: http.StatusUnauthorized,
			WWWAuthenticate: BearerChallenge(p, [][2]string{
				{"error", "invalid_token"},
				{"error_description", "token verification failed"},
			}),
		}
	}
	if r.Kind == InsufficientScope {
		params := [][2]string{
			{"error", "insufficient_scope"},
			{"error_description", r.Reason},
		}
		if p.Scope != "" {
			params = append(params, [2]string{"scope", p.Scope})
		}
		return &AuthenticationChallenge{Status: http.StatusForbidden, WWWAuthenticate: BearerChallenge(p, params)}
	}
	return &AuthenticationChallenge{
		Status: http.StatusUnauthorized,
		WWWAuthenticate: BearerChallenge(p, [][2]string{
			{"error", "invalid_token"},
			{"error_description", describe(r)},
		}),
	}
}

// describe keeps infrastructure detail out of client-facing text.
func describe(r *Rejection) string {
	switch r.Kind {
	case KeySourceUnavailable:
		return "unable to verify token at this time"
	case TokenExpired:
		return "the access token expired"
	case AudienceMismatch:
		return "the access token is not intended for this resource"
	case IssuerMismatch:
		return "the access token was issued by an untrusted issuer"
	}
	return r.Kind.String()
}

// BearerChallenge renders a WWW-Authenticate value with realm and
// resource_metadata first, then params in order.
func BearerChallenge(p ChallengeParams, params [][2]string) string {
	esc := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	pieces := make([]string, 0, 2+len(params))
	if p.Realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc.Replace(p.Realm)))
	}
	if p.ResourceMetadataURL != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc.Replace(p.ResourceMetadataURL)))
	}
	for _, kv := range params {
		if kv[1] == "" {
			continue
		}
		pieces = append(pieces, fmt.Sprintf(`%s="%s"`, kv[0], esc.Replace(kv[1])))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}
