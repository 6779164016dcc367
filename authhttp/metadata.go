package authhttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ggoodman/mcp-bearer-go/auth"
	"github.com/ggoodman/mcp-bearer-go/internal/wellknown"
)

// ProtectedResource serves the RFC 9728 metadata document for one resource
// URL, built from the verifier's advertised security configuration.
type ProtectedResource struct {
	doc  wellknown.ProtectedResourceMetadata
	url  string
	path string
}

// NewProtectedResource builds the metadata for resource (the absolute URL of
// the protected endpoint, e.g. "https://mcp.example.com/mcp"). name is
// optional and becomes resource_name.
func NewProtectedResource(resource string, sd auth.SecurityDescriptor, name string) (*ProtectedResource, error) {
	mu, err := wellknown.MetadataURL(resource)
	if err != nil {
		return nil, err
	}
	sc := sd.SecurityConfig()
	if sc.Issuer == "" {
		return nil, fmt.Errorf("authhttp: security descriptor has no issuer")
	}
	return &ProtectedResource{
		doc: wellknown.ProtectedResourceMetadata{
			Resource:               resource,
			AuthorizationServers:   []string{sc.Issuer},
			JwksURI:                sc.JWKSURL,
			ScopesSupported:        sc.ScopesSupported,
			BearerMethodsSupported: []string{"header"},
			ResourceName:           name,
		},
		url:  mu.String(),
		path: mu.Path,
	}, nil
}

// MetadataURL is the absolute URL of the document, suitable for
// WithResourceMetadataURL.
func (p *ProtectedResource) MetadataURL() string { return p.url }

// Path is the request path the document is served at.
func (p *ProtectedResource) Path() string { return p.path }

// Document returns a copy of the metadata.
func (p *ProtectedResource) Document() wellknown.ProtectedResourceMetadata {
	d := p.doc
	d.AuthorizationServers = append([]string(nil), p.doc.AuthorizationServers...)
	d.ScopesSupported = append([]string(nil), p.doc.ScopesSupported...)
	d.BearerMethodsSupported = append([]string(nil), p.doc.BearerMethodsSupported...)
	return d
}

// Register mounts the document on mux with and without a trailing slash.
func (p *ProtectedResource) Register(mux *http.ServeMux) {
	base := strings.TrimSuffix(p.path, "/")
	mux.Handle(base, p)
	mux.Handle(base+"/", p)
}

func (p *ProtectedResource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		if err := json.NewEncoder(w).Encode(p.doc); err != nil {
			http.Error(w, fmt.Sprintf("failed to encode protected resource metadata: %v", err), http.StatusInternalServerError)
		}
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
		w.Header().Set("Access-Control-Max-Age", "600")
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
