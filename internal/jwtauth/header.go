package jwtauth

import (
	"github.com/go-jose/go-jose/v4"
)

// knownAlgs is the set of algorithms the unverified header pass accepts as
// syntactically valid. Policy (the allow-list) is applied afterwards so that
// a well-formed header with a disallowed alg is reported as a signature
// failure rather than a parse failure.
var knownAlgs = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.HS256, jose.HS384, jose.HS512,
	jose.EdDSA,
}

// Header is the subset of the unverified JOSE header used to select a key.
// Nothing in it is trusted.
type Header struct {
	KeyID     string
	Algorithm string
	Type      string
}

// ParseHeader reads the header of a compact JWS without verifying anything.
func ParseHeader(raw string) (Header, error) {
	if raw == "" {
		return Header{}, fail(KindMalformedHeader, "empty token", nil)
	}
	jws, err := jose.ParseSignedCompact(raw, knownAlgs)
	if err != nil {
		return Header{}, fail(KindMalformedHeader, "unreadable token header", err)
	}
	if len(jws.Signatures) != 1 {
		return Header{}, fail(KindMalformedHeader, "expected exactly one signature", nil)
	}
	h := jws.Signatures[0].Header
	out := Header{KeyID: h.KeyID, Algorithm: h.Algorithm}
	if typ, ok := h.ExtraHeaders[jose.HeaderType].(string); ok {
		out.Type = typ
	}
	return out, nil
}
