package jwks

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/go-jose/go-jose/v4"
)

func TestParse(t *testing.T) {
	rsaKey := genRSA(t)
	ecKey := genEC(t)

	t.Run("rsa and ec keys in order", func(t *testing.T) {
		doc := jwksDoc(t,
			rsaJWK(rsaKey, "r1"),
			jose.JSONWebKey{Key: &ecKey.PublicKey, KeyID: "e1", Algorithm: "ES256", Use: "sig"},
		)
		ks, err := Parse(doc)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if ks.Len() != 2 {
			t.Fatalf("want 2 keys, got %d", ks.Len())
		}
		if got := ks.KIDs(); got[0] != "r1" || got[1] != "e1" {
			t.Fatalf("unexpected order: %v", got)
		}
		k, ok := ks.Lookup("e1")
		if !ok || k.Algorithm != "ES256" {
			t.Fatalf("lookup e1: %+v %v", k, ok)
		}
	})

	t.Run("missing keys array", func(t *testing.T) {
		if _, err := Parse([]byte(`{"other":[]}`)); !errors.Is(err, ErrMalformedKeySet) {
			t.Fatalf("want ErrMalformedKeySet, got %v", err)
		}
	})

	t.Run("not json", func(t *testing.T) {
		if _, err := Parse([]byte(`<html>`)); !errors.Is(err, ErrMalformedKeySet) {
			t.Fatalf("want ErrMalformedKeySet, got %v", err)
		}
	})

	t.Run("empty keys array", func(t *testing.T) {
		if _, err := Parse([]byte(`{"keys":[]}`)); !errors.Is(err, ErrMalformedKeySet) {
			t.Fatalf("want ErrMalformedKeySet, got %v", err)
		}
	})

	t.Run("skips unusable entries", func(t *testing.T) {
		doc := jwksDoc(t,
			jose.JSONWebKey{Key: &rsaKey.PublicKey, KeyID: "enc", Algorithm: "RSA-OAEP", Use: "enc"},
			jose.JSONWebKey{Key: rsaKey, KeyID: "private", Algorithm: "RS256", Use: "sig"},
			jose.JSONWebKey{Key: []byte("0123456789abcdef0123456789abcdef"), KeyID: "hmac", Algorithm: "HS256"},
			rsaJWK(rsaKey, "good"),
		)
		ks, err := Parse(doc)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if ks.Len() != 1 {
			t.Fatalf("want only the usable key, got %v", ks.KIDs())
		}
		if _, ok := ks.Lookup("good"); !ok {
			t.Fatal("expected good key")
		}
	})

	t.Run("garbage entries are skipped", func(t *testing.T) {
		doc := []byte(`{"keys":[{"kty":"nope"},{"kty":"RSA","n":"!!"}]}`)
		if _, err := Parse(doc); !errors.Is(err, ErrMalformedKeySet) {
			t.Fatalf("want ErrMalformedKeySet, got %v", err)
		}
	})

	t.Run("first kid wins", func(t *testing.T) {
		other := genRSA(t)
		ks, err := Parse(jwksDoc(t, rsaJWK(rsaKey, "dup"), rsaJWK(other, "dup")))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		k, _ := ks.Lookup("dup")
		if !rsaKey.PublicKey.Equal(k.Public) {
			t.Fatal("expected the first key with a duplicated kid")
		}
	})
}

func TestKeySupports(t *testing.T) {
	rsaKey := genRSA(t)
	ecKey := genEC(t)
	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519: %v", err)
	}

	cases := []struct {
		name string
		key  Key
		alg  string
		want bool
	}{
		{"declared match", Key{Algorithm: "RS256", Public: &rsaKey.PublicKey}, "RS256", true},
		{"declared mismatch", Key{Algorithm: "RS256", Public: &rsaKey.PublicKey}, "RS384", false},
		{"rsa inferred rs", Key{Public: &rsaKey.PublicKey}, "RS512", true},
		{"rsa inferred ps", Key{Public: &rsaKey.PublicKey}, "PS256", true},
		{"rsa never hmac", Key{Public: &rsaKey.PublicKey}, "HS256", false},
		{"ec p256", Key{Public: &ecKey.PublicKey}, "ES256", true},
		{"ec wrong curve", Key{Public: &ecKey.PublicKey}, "ES384", false},
		{"ed25519", Key{Public: edPub}, "EdDSA", true},
		{"ed25519 not rsa", Key{Public: edPub}, "RS256", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.key.Supports(tc.alg); got != tc.want {
				t.Fatalf("Supports(%q) = %v, want %v", tc.alg, got, tc.want)
			}
		})
	}
}

func TestKeySet_FirstForAlgAndCopies(t *testing.T) {
	rsaKey := genRSA(t)
	ecKey := genEC(t)
	ks := NewKeySet(
		Key{KID: "e", Algorithm: "ES256", Public: &ecKey.PublicKey},
		Key{KID: "r1", Algorithm: "RS256", Public: &rsaKey.PublicKey},
		Key{KID: "r2", Algorithm: "RS256", Public: &rsaKey.PublicKey},
	)

	k, ok := ks.FirstForAlg("RS256")
	if !ok || k.KID != "r1" {
		t.Fatalf("FirstForAlg: %+v %v", k, ok)
	}
	if _, ok := ks.FirstForAlg("PS512"); ok {
		t.Fatal("no key declares PS512")
	}

	keys := ks.Keys()
	keys[0].KID = "mutated"
	if again, _ := ks.Lookup("e"); again.KID != "e" {
		t.Fatal("Keys() must return a copy")
	}

	var nilSet *KeySet
	if _, ok := nilSet.Lookup("x"); ok || nilSet.Len() != 0 {
		t.Fatal("nil set must be empty")
	}
}
