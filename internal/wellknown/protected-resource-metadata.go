// Package wellknown holds the RFC 9728 protected resource metadata document.
package wellknown

import (
	"fmt"
	"net/url"
	"strings"
)

// ProtectedResourcePrefix is the well-known path segment from RFC 9728 §3.
const ProtectedResourcePrefix = "/.well-known/oauth-protected-resource"

type ProtectedResourceMetadata struct {
	Resource                          string   `json:"resource"`
	AuthorizationServers              []string `json:"authorization_servers,omitempty"`
	JwksURI                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported            []string `json:"bearer_methods_supported,omitempty"`
	ResourceSigningAlgValuesSupported []string `json:"resource_signing_alg_values_supported,omitempty"`
	ResourceName                      string   `json:"resource_name,omitempty"`
	ResourceDocumentation             string   `json:"resource_documentation,omitempty"`
}

// MetadataURL returns where the metadata for resource is published: the
// well-known prefix inserted between the host and the resource path.
func MetadataURL(resource string) (*url.URL, error) {
	u, err := url.Parse(resource)
	if err != nil {
		return nil, fmt.Errorf("wellknown: invalid resource url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("wellknown: resource url %q must be absolute", resource)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("wellknown: resource url %q must not carry a query or fragment", resource)
	}
	path := strings.TrimSuffix(u.Path, "/")
	return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: ProtectedResourcePrefix + path}, nil
}
