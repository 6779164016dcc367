package jwks

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// ErrMalformedKeySet is returned by Parse when the document is not a JSON
// object with a "keys" array containing at least one usable signing key.
var ErrMalformedKeySet = errors.New("jwks: malformed key set")

// Key is a single public verification key.
type Key struct {
	// KID is the key identifier, possibly empty.
	KID string
	// Algorithm is the "alg" the provider declared for this key, possibly empty.
	Algorithm string
	// Use is the declared public key use, "sig" or empty.
	Use string
	// Public is one of *rsa.PublicKey, *ecdsa.PublicKey or ed25519.PublicKey.
	Public crypto.PublicKey
}

// Supports reports whether the key may verify signatures made with alg. A
// declared algorithm must match exactly; otherwise compatibility is inferred
// from the key type.
func (k Key) Supports(alg string) bool {
	if k.Algorithm != "" {
		return k.Algorithm == alg
	}
	switch pk := k.Public.(type) {
	case *rsa.PublicKey:
		return strings.HasPrefix(alg, "RS") || strings.HasPrefix(alg, "PS")
	case *ecdsa.PublicKey:
		switch alg {
		case "ES256":
			return pk.Curve.Params().BitSize == 256
		case "ES384":
			return pk.Curve.Params().BitSize == 384
		case "ES512":
			return pk.Curve.Params().BitSize == 521
		}
		return false
	case ed25519.PublicKey:
		return alg == "EdDSA"
	}
	return false
}

// KeySet is an immutable, ordered collection of verification keys.
type KeySet struct {
	keys  []Key
	byKID map[string]int
}

// NewKeySet builds a KeySet from keys. Later duplicates of a kid are kept in
// order but never returned by Lookup.
func NewKeySet(keys ...Key) *KeySet {
	ks := &KeySet{
		keys:  make([]Key, len(keys)),
		byKID: make(map[string]int, len(keys)),
	}
	copy(ks.keys, keys)
	for i, k := range ks.keys {
		if k.KID == "" {
			continue
		}
		if _, dup := ks.byKID[k.KID]; !dup {
			ks.byKID[k.KID] = i
		}
	}
	return ks
}

// Lookup returns the key with the given kid.
func (ks *KeySet) Lookup(kid string) (Key, bool) {
	if ks == nil || kid == "" {
		return Key{}, false
	}
	i, ok := ks.byKID[kid]
	if !ok {
		return Key{}, false
	}
	return ks.keys[i], true
}

// FirstForAlg returns the first key, in document order, that supports alg.
func (ks *KeySet) FirstForAlg(alg string) (Key, bool) {
	if ks == nil {
		return Key{}, false
	}
	for _, k := range ks.keys {
		if k.Supports(alg) {
			return k, true
		}
	}
	return Key{}, false
}

// Keys returns a copy of the keys in document order.
func (ks *KeySet) Keys() []Key {
	if ks == nil {
		return nil
	}
	out := make([]Key, len(ks.keys))
	copy(out, ks.keys)
	return out
}

// Len returns the number of keys.
func (ks *KeySet) Len() int {
	if ks == nil {
		return 0
	}
	return len(ks.keys)
}

// KIDs returns the key identifiers in document order, skipping empty ones.
func (ks *KeySet) KIDs() []string {
	if ks == nil {
		return nil
	}
	out := make([]string, 0, len(ks.keys))
	for _, k := range ks.keys {
		if k.KID != "" {
			out = append(out, k.KID)
		}
	}
	return out
}

// Parse decodes a JWKS document. Entries that fail to decode, carry private
// or symmetric material, or are declared for encryption are skipped.
func Parse(data []byte) (*KeySet, error) {
	var doc struct {
		Keys *[]json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKeySet, err)
	}
	if doc.Keys == nil {
		return nil, fmt.Errorf("%w: missing \"keys\" array", ErrMalformedKeySet)
	}

	keys := make([]Key, 0, len(*doc.Keys))
	for _, raw := range *doc.Keys {
		var jwk jose.JSONWebKey
		if err := jwk.UnmarshalJSON(raw); err != nil {
			continue
		}
		if !jwk.Valid() || !jwk.IsPublic() {
			continue
		}
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		keys = append(keys, Key{
			KID:       jwk.KeyID,
			Algorithm: jwk.Algorithm,
			Use:       jwk.Use,
			Public:    jwk.Key,
		})
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no usable signing keys", ErrMalformedKeySet)
	}
	return NewKeySet(keys...), nil
}
