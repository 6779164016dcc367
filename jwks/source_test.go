package jwks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPSource(t *testing.T) {
	doc := jwksDoc(t, rsaJWK(genRSA(t), "k1"))

	var lastCacheControl, lastAccept string
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		lastCacheControl = r.Header.Get("Cache-Control")
		lastAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	})
	mux.HandleFunc("/huge", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", maxDocumentSize+10)))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Run("fetch", func(t *testing.T) {
		src, err := NewHTTPSource(srv.URL+"/.well-known/jwks.json", srv.Client())
		if err != nil {
			t.Fatalf("NewHTTPSource: %v", err)
		}
		got, err := src.FetchKeySet(context.Background(), false)
		if err != nil {
			t.Fatalf("FetchKeySet: %v", err)
		}
		if string(got) != string(doc) {
			t.Fatalf("unexpected body: %s", got)
		}
		if lastAccept != "application/json" {
			t.Fatalf("Accept = %q", lastAccept)
		}
		if lastCacheControl != "" {
			t.Fatalf("non-fresh fetch sent Cache-Control %q", lastCacheControl)
		}

		if _, err := src.FetchKeySet(context.Background(), true); err != nil {
			t.Fatalf("fresh FetchKeySet: %v", err)
		}
		if lastCacheControl != "no-cache" {
			t.Fatalf("fresh fetch Cache-Control = %q", lastCacheControl)
		}
	})

	t.Run("non-200", func(t *testing.T) {
		src, _ := NewHTTPSource(srv.URL+"/broken", srv.Client())
		if _, err := src.FetchKeySet(context.Background(), false); err == nil || !strings.Contains(err.Error(), "502") {
			t.Fatalf("expected status error, got %v", err)
		}
	})

	t.Run("size limit", func(t *testing.T) {
		src, _ := NewHTTPSource(srv.URL+"/huge", srv.Client())
		if _, err := src.FetchKeySet(context.Background(), false); err == nil {
			t.Fatal("expected size limit error")
		}
	})
}

func TestNewHTTPSource_URLValidation(t *testing.T) {
	cases := []struct {
		url string
		ok  bool
	}{
		{"https://tenant.example.com/.well-known/jwks.json", true},
		{"http://127.0.0.1:8080/jwks", true},
		{"http://localhost/jwks", true},
		{"http://tenant.example.com/.well-known/jwks.json", false},
		{"ftp://tenant.example.com/jwks", false},
		{"https:///jwks", false},
		{"::not a url", false},
	}
	for _, tc := range cases {
		_, err := NewHTTPSource(tc.url, nil)
		if (err == nil) != tc.ok {
			t.Errorf("NewHTTPSource(%q) err = %v, want ok=%v", tc.url, err, tc.ok)
		}
	}
}
