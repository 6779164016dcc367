// Package auth verifies OAuth 2.0 bearer access tokens (JWTs) issued by an
// external identity provider and presented to an MCP resource server.
//
// A Verifier fetches the provider's JSON Web Key Set, selects the signing key
// named by the token's kid (refreshing the set at most once on a miss),
// verifies the signature against an explicit algorithm allow-list and checks
// exp, iat, nbf, iss and aud in that order. Success yields an immutable
// AccessDescriptor; every failure is a *Rejection with a RejectionKind.
//
// Example:
//
//	v, err := auth.NewForDomain("tenant.us.auth0.com", "https://mcp.example.com/mcp")
//	if err != nil { log.Fatal(err) }
//
//	desc, err := v.Verify(ctx, bearerToken)
//	switch {
//	case errors.Is(err, auth.ErrTokenExpired):
//	    // ask the client to refresh
//	case err != nil:
//	    // 401 invalid_token
//	}
//	if err := auth.RequireScopes(desc, auth.ScopeModeAll, "mcp:invoke"); err != nil {
//	    // 403 insufficient_scope
//	}
//
// # Key material
//
// Keys are cached in memory for a TTL (10 minutes by default) and replaced
// atomically. Concurrent verifications share one in-flight fetch. A fetch that
// fails after the TTL keeps serving the previous set; a fetch that fails on a
// cold cache yields KeySourceUnavailable. WithKeyStore adds a shared tier
// (for example keystore/redis) so a fleet of replicas fetches once.
//
// # Scopes
//
// Verify extracts scopes from the "scope" claim (space-delimited string or
// list) or, failing that, the "permissions" list, preserving order. It never
// enforces them; RequireScopes is the policy hook for the dispatch layer.
//
// # Configuration
//
// NewFromEnv reads AUTH0_DOMAIN, AUTH0_AUDIENCE, AUTH0_ALGORITHMS,
// AUTH0_LEEWAY, JWKS_CACHE_TTL, JWKS_FETCH_TIMEOUT, JWKS_MIN_REFRESH_INTERVAL
// and MCP_REQUIRED_SCOPES. NewFromDiscovery resolves jwks_uri through OpenID
// Connect discovery.
package auth
