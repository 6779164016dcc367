package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-bearer-go/internal/jwtauth"
)

// AccessDescriptor is the immutable result of a successful verification.
// Accessors return copies; the verifier keeps no reference to it.
type AccessDescriptor struct {
	token     string
	scopes    []string
	expiresAt time.Time
	issuedAt  time.Time
	subject   string
	clientID  string
	issuer    string
	audience  []string
	claims    []byte
}

func newAccessDescriptor(token string, c *jwtauth.Claims) *AccessDescriptor {
	return &AccessDescriptor{
		token:     token,
		scopes:    append([]string{}, c.Scopes...),
		expiresAt: c.ExpiresAt,
		issuedAt:  c.IssuedAt,
		subject:   c.Subject,
		clientID:  c.ClientID,
		issuer:    c.Issuer,
		audience:  append([]string(nil), c.Audience...),
		claims:    append([]byte(nil), c.Payload...),
	}
}

// Token returns the original bearer token. Treat it as a credential.
func (d *AccessDescriptor) Token() string { return d.token }

// Scopes returns the granted scopes in token order. Never nil.
func (d *AccessDescriptor) Scopes() []string { return append([]string{}, d.scopes...) }

// HasScope reports whether scope was granted.
func (d *AccessDescriptor) HasScope(scope string) bool {
	for _, s := range d.scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ExpiresAt returns the exp claim.
func (d *AccessDescriptor) ExpiresAt() time.Time { return d.expiresAt }

// IssuedAt returns the iat claim.
func (d *AccessDescriptor) IssuedAt() time.Time { return d.issuedAt }

// Subject returns the sub claim, possibly empty.
func (d *AccessDescriptor) Subject() string { return d.subject }

// ClientID returns azp, falling back to client_id.
func (d *AccessDescriptor) ClientID() string { return d.clientID }

// Issuer returns the iss claim. It always equals the configured issuer.
func (d *AccessDescriptor) Issuer() string { return d.issuer }

// Audience returns the aud claim as a list, in token order.
func (d *AccessDescriptor) Audience() []string {
	return append([]string(nil), d.audience...)
}

// UserID implements UserInfo.
func (d *AccessDescriptor) UserID() string { return d.subject }

// Claims decodes the full validated payload into ref.
func (d *AccessDescriptor) Claims(ref any) error {
	return json.Unmarshal(d.claims, ref)
}

// Fingerprint is a short, non-reversible identifier of the token for
// correlating log lines.
func (d *AccessDescriptor) Fingerprint() string { return Fingerprint(d.token) }

// String omits the token.
func (d *AccessDescriptor) String() string {
	return "AccessDescriptor{sub=" + d.subject + ", client_id=" + d.clientID + ", token=" + d.Fingerprint() + "}"
}

// LogValue implements slog.LogValuer without the token.
func (d *AccessDescriptor) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("sub", d.subject),
		slog.String("client_id", d.clientID),
		slog.Any("scopes", d.scopes),
		slog.Time("exp", d.expiresAt),
		slog.String("token_fp", d.Fingerprint()),
	)
}

// Fingerprint returns the first 12 hex characters of the SHA-256 of token.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}

var (
	_ UserInfo       = (*AccessDescriptor)(nil)
	_ slog.LogValuer = (*AccessDescriptor)(nil)
)
