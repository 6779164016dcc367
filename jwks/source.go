package jwks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
)

// maxDocumentSize bounds how much of a provider response is read.
const maxDocumentSize = 1 << 20

// Source produces raw JWKS documents. When fresh is true the source must not
// answer from any cache of its own.
type Source interface {
	FetchKeySet(ctx context.Context, fresh bool) ([]byte, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, fresh bool) ([]byte, error)

// FetchKeySet calls f.
func (f SourceFunc) FetchKeySet(ctx context.Context, fresh bool) ([]byte, error) {
	return f(ctx, fresh)
}

// HTTPSource fetches a JWKS document from a fixed URL.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource validates rawURL and returns a Source for it. Only https URLs
// are accepted, except for loopback hosts.
func NewHTTPSource(rawURL string, client *http.Client) (*HTTPSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("jwks: invalid url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("jwks: url %q has no host", rawURL)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !isLoopback(u.Hostname()) {
			return nil, fmt.Errorf("jwks: url %q must use https", rawURL)
		}
	default:
		return nil, fmt.Errorf("jwks: unsupported scheme %q", u.Scheme)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{url: u.String(), client: client}, nil
}

// URL returns the document location.
func (s *HTTPSource) URL() string { return s.url }

// FetchKeySet performs a single GET. Non-200 responses are errors.
func (s *HTTPSource) FetchKeySet(ctx context.Context, fresh bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("jwks: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if fresh {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks: fetch %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDocumentSize))
		return nil, fmt.Errorf("jwks: fetch %s: unexpected status %d", s.url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("jwks: read body: %w", err)
	}
	if len(body) > maxDocumentSize {
		return nil, errors.New("jwks: document exceeds size limit")
	}
	return body, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
