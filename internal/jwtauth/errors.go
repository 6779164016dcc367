package jwtauth

import "fmt"

// Kind enumerates why a token was rejected.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindMalformedHeader
	KindKeySourceUnavailable
	KindNoMatchingKey
	KindSignatureInvalid
	KindTokenExpired
	KindTokenNotYetValid
	KindIssuerMismatch
	KindAudienceMismatch
	KindMalformedClaims
	KindInsufficientScope
)

var kindNames = [...]string{
	KindUnknown:              "unknown",
	KindMalformedHeader:      "malformed_header",
	KindKeySourceUnavailable: "key_source_unavailable",
	KindNoMatchingKey:        "no_matching_key",
	KindSignatureInvalid:     "signature_invalid",
	KindTokenExpired:         "token_expired",
	KindTokenNotYetValid:     "token_not_yet_valid",
	KindIssuerMismatch:       "issuer_mismatch",
	KindAudienceMismatch:     "audience_mismatch",
	KindMalformedClaims:      "malformed_claims",
	KindInsufficientScope:    "insufficient_scope",
}

// String returns the snake_case name used in logs and metric labels.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Error is a classified verification failure. Reason is safe to log and to
// echo in an error_description; Err carries the underlying cause, if any.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "jwtauth: " + e.Kind.String() + ": " + e.Reason + ": " + e.Err.Error()
	}
	return "jwtauth: " + e.Kind.String() + ": " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

func fail(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}
