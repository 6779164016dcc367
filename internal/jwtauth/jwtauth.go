// Package jwtauth implements the signature and claims checks for bearer
// access tokens: unverified header parsing, key resolution against a cached
// JWKS, and ordered claim validation.
package jwtauth

import (
	"crypto"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultMaxIssuedAtSkew bounds how far in the future iat may be.
const DefaultMaxIssuedAtSkew = 5 * time.Minute

// Config controls claim validation.
type Config struct {
	Issuer string
	// ExpectedAudiences contains the primary audience (index 0) followed by
	// any additional accepted audiences. A token is accepted when its aud
	// intersects this set.
	ExpectedAudiences []string
	AllowedAlgs       []string
	Leeway            time.Duration
	MaxIssuedAtSkew   time.Duration
	Now               func() time.Time
}

// Claims is the validated payload.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	// Payload is the verified JSON payload segment, decoded from base64url.
	Payload []byte
}

// Validator verifies a token signature with a resolved key and then checks
// the standard claims in a fixed order, stopping at the first failure.
type Validator struct {
	cfg     Config
	allowed map[string]struct{}
	parser  *jwt.Parser
}

// NewValidator returns a Validator for cfg.
func NewValidator(cfg Config) *Validator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxIssuedAtSkew <= 0 {
		cfg.MaxIssuedAtSkew = DefaultMaxIssuedAtSkew
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedAlgs))
	for _, a := range cfg.AllowedAlgs {
		allowed[a] = struct{}{}
	}
	// Time-based claims are checked below in a fixed order with our own
	// leeway and skew rules.
	parser := jwt.NewParser(
		jwt.WithValidMethods(cfg.AllowedAlgs),
		jwt.WithoutClaimsValidation(),
	)
	return &Validator{cfg: cfg, allowed: allowed, parser: parser}
}

// Validate checks raw, signed with alg, against key. alg must come from a
// header that already passed the resolver; it is re-checked against the
// allow-list here so the validator never trusts it on its own.
//
// Order: signature, exp, iat, nbf, iss, aud, then claim types.
func (v *Validator) Validate(raw, alg string, key crypto.PublicKey) (*Claims, error) {
	if _, ok := v.allowed[alg]; !ok {
		return nil, fail(KindSignatureInvalid, "algorithm "+alg+" not allowed", nil)
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fail(KindSignatureInvalid, "unsupported algorithm "+alg, nil)
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != alg {
			return nil, errAlgMismatch
		}
		return key, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		// The parser decodes the payload before it verifies the signature.
		return nil, v.classifyMalformed(raw, method, key, err)
	default:
		return nil, fail(KindSignatureInvalid, "signature verification failed", err)
	}

	_, rest, _ := strings.Cut(raw, ".")
	seg, _, _ := strings.Cut(rest, ".")
	payload, err := v.parser.DecodeSegment(seg)
	if err != nil {
		return nil, fail(KindMalformedClaims, "undecodable payload", err)
	}

	now := v.cfg.Now()
	leeway := v.cfg.Leeway

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fail(KindMalformedClaims, "exp is not a number", err)
	}
	if exp == nil {
		return nil, fail(KindMalformedClaims, "missing exp", nil)
	}
	if !now.Before(exp.Add(leeway)) {
		return nil, fail(KindTokenExpired, "token is expired", nil)
	}

	iat, err := claims.GetIssuedAt()
	if err != nil {
		return nil, fail(KindMalformedClaims, "iat is not a number", err)
	}
	if iat == nil {
		return nil, fail(KindMalformedClaims, "missing iat", nil)
	}
	if iat.After(now.Add(leeway + v.cfg.MaxIssuedAtSkew)) {
		return nil, fail(KindTokenNotYetValid, "iat is in the future", nil)
	}

	nbf, err := claims.GetNotBefore()
	if err != nil {
		return nil, fail(KindMalformedClaims, "nbf is not a number", err)
	}
	if nbf != nil && nbf.After(now.Add(leeway)) {
		return nil, fail(KindTokenNotYetValid, "token is not valid yet", nil)
	}

	if _, ok := claims["iss"]; !ok {
		return nil, fail(KindMalformedClaims, "missing iss", nil)
	}
	iss, err := claims.GetIssuer()
	if err != nil {
		return nil, fail(KindMalformedClaims, "iss is not a string", err)
	}
	if iss != v.cfg.Issuer {
		return nil, fail(KindIssuerMismatch, "issuer mismatch", nil)
	}

	aud, err := audience(claims)
	if err != nil {
		return nil, err
	}
	if !audIntersects(aud, v.cfg.ExpectedAudiences) {
		return nil, fail(KindAudienceMismatch, "audience mismatch", nil)
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return nil, fail(KindMalformedClaims, "sub is not a string", err)
	}
	scopes, err := extractScopes(claims)
	if err != nil {
		return nil, err
	}
	clientID, err := extractClientID(claims)
	if err != nil {
		return nil, err
	}

	return &Claims{
		Subject:   sub,
		Issuer:    iss,
		Audience:  aud,
		ClientID:  clientID,
		Scopes:    scopes,
		ExpiresAt: exp.Time,
		IssuedAt:  iat.Time,
		Payload:   payload,
	}, nil
}

var errAlgMismatch = errors.New("token alg differs from the resolved alg")

// classifyMalformed reports a bad signature ahead of an undecodable payload.
func (v *Validator) classifyMalformed(raw string, method jwt.SigningMethod, key crypto.PublicKey, cause error) error {
	if strings.Count(raw, ".") != 2 {
		return fail(KindMalformedHeader, "token must have three segments", cause)
	}
	i := strings.LastIndexByte(raw, '.')
	sig, err := v.parser.DecodeSegment(raw[i+1:])
	if err != nil {
		return fail(KindSignatureInvalid, "undecodable signature", err)
	}
	if err := method.Verify(raw[:i], sig, key); err != nil {
		return fail(KindSignatureInvalid, "signature verification failed", err)
	}
	return fail(KindMalformedClaims, "undecodable payload", cause)
}

// audience accepts a string or a list of strings. jwt.MapClaims.GetAudience
// silently ignores other types, so those are rejected here first.
func audience(claims jwt.MapClaims) ([]string, error) {
	switch claims["aud"].(type) {
	case nil:
		return nil, fail(KindMalformedClaims, "missing aud", nil)
	case string, []any:
	default:
		return nil, fail(KindMalformedClaims, "aud is not a string or list of strings", nil)
	}
	aud, err := claims.GetAudience()
	if err != nil {
		return nil, fail(KindMalformedClaims, "aud is not a string or list of strings", err)
	}
	return aud, nil
}

// extractScopes reads "scope" (space-delimited string or list) and falls back
// to "permissions" (list). Order is preserved; duplicates are kept.
func extractScopes(claims jwt.MapClaims) ([]string, error) {
	if raw, ok := claims["scope"]; ok && raw != nil {
		switch v := raw.(type) {
		case string:
			return strings.Fields(v), nil
		case []any:
			return stringList(v, "scope")
		default:
			return nil, fail(KindMalformedClaims, "scope has an unsupported type", nil)
		}
	}
	if raw, ok := claims["permissions"]; ok && raw != nil {
		v, ok := raw.([]any)
		if !ok {
			return nil, fail(KindMalformedClaims, "permissions is not a list", nil)
		}
		return stringList(v, "permissions")
	}
	return []string{}, nil
}

func stringList(v []any, claim string) ([]string, error) {
	out := make([]string, 0, len(v))
	for _, e := range v {
		s, ok := e.(string)
		if !ok {
			return nil, fail(KindMalformedClaims, claim+" contains a non-string entry", nil)
		}
		out = append(out, s)
	}
	return out, nil
}

// extractClientID prefers azp over client_id.
func extractClientID(claims jwt.MapClaims) (string, error) {
	for _, name := range []string{"azp", "client_id"} {
		raw, ok := claims[name]
		if !ok || raw == nil {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			return "", fail(KindMalformedClaims, name+" is not a string", nil)
		}
		if s != "" {
			return s, nil
		}
	}
	return "", nil
}

func audIntersects(have []string, expected []string) bool {
	for _, e := range expected {
		for _, s := range have {
			if s == e {
				return true
			}
		}
	}
	return false
}
