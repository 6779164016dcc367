package auth

import (
	"errors"

	"github.com/ggoodman/mcp-bearer-go/internal/jwtauth"
)

// RejectionKind classifies why a token was not accepted.
type RejectionKind = jwtauth.Kind

const (
	// MalformedHeader: the token header is unreadable or lacks alg (or kid
	// when key ids are required).
	MalformedHeader = jwtauth.KindMalformedHeader
	// KeySourceUnavailable: the signing keys could not be fetched or parsed.
	KeySourceUnavailable = jwtauth.KindKeySourceUnavailable
	// NoMatchingKey: no key matched, even after one refresh.
	NoMatchingKey = jwtauth.KindNoMatchingKey
	// SignatureInvalid: the signature did not verify or the algorithm is not allowed.
	SignatureInvalid = jwtauth.KindSignatureInvalid
	TokenExpired     = jwtauth.KindTokenExpired
	// TokenNotYetValid: nbf, or an iat beyond the allowed skew, is in the future.
	TokenNotYetValid = jwtauth.KindTokenNotYetValid
	IssuerMismatch   = jwtauth.KindIssuerMismatch
	AudienceMismatch = jwtauth.KindAudienceMismatch
	// MalformedClaims: a required claim is missing or has the wrong type.
	MalformedClaims = jwtauth.KindMalformedClaims
	// InsufficientScope is produced by RequireScopes, never by Verify.
	InsufficientScope = jwtauth.KindInsufficientScope
)

// Rejection is the only error type returned by Verifier.Verify.
//
// Reason is a short, token-free description suitable for logs and for the
// error_description of a Bearer challenge.
type Rejection struct {
	Kind   RejectionKind
	Reason string
	err    error
}

// Per-kind sentinels for errors.Is.
var (
	ErrMalformedHeader      = &Rejection{Kind: MalformedHeader}
	ErrKeySourceUnavailable = &Rejection{Kind: KeySourceUnavailable}
	ErrNoMatchingKey        = &Rejection{Kind: NoMatchingKey}
	ErrSignatureInvalid     = &Rejection{Kind: SignatureInvalid}
	ErrTokenExpired         = &Rejection{Kind: TokenExpired}
	ErrTokenNotYetValid     = &Rejection{Kind: TokenNotYetValid}
	ErrIssuerMismatch       = &Rejection{Kind: IssuerMismatch}
	ErrAudienceMismatch     = &Rejection{Kind: AudienceMismatch}
	ErrMalformedClaims      = &Rejection{Kind: MalformedClaims}
)

func (r *Rejection) Error() string {
	if r.Reason == "" {
		return "auth: " + r.Kind.String()
	}
	return "auth: " + r.Kind.String() + ": " + r.Reason
}

func (r *Rejection) Unwrap() error { return r.err }

// Is matches ErrUnauthorized, ErrInsufficientScope and any *Rejection of the
// same kind.
func (r *Rejection) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return r.Kind != InsufficientScope
	case ErrInsufficientScope:
		return r.Kind == InsufficientScope
	}
	t, ok := target.(*Rejection)
	return ok && t.Kind == r.Kind
}

// KindOf returns the kind of the *Rejection in err's chain.
func KindOf(err error) (RejectionKind, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Kind, true
	}
	return jwtauth.KindUnknown, false
}

func reject(kind RejectionKind, reason string, cause error) *Rejection {
	return &Rejection{Kind: kind, Reason: reason, err: cause}
}

// fromInternal converts an internal verification error, keeping the cause.
func fromInternal(err error) *Rejection {
	var ie *jwtauth.Error
	if errors.As(err, &ie) {
		return &Rejection{Kind: ie.Kind, Reason: ie.Reason, err: ie.Err}
	}
	return &Rejection{Kind: SignatureInvalid, Reason: "verification failed", err: err}
}
