// Package jwks fetches, parses and caches an identity provider's published
// JSON Web Key Set.
//
// A Cache owns exactly one immutable *KeySet at a time. Readers always observe
// either the previous set or the fully parsed replacement; the set is swapped
// atomically and never mutated in place. Refreshes are coalesced so that at
// most one fetch per trigger (TTL staleness or a forced refresh) is in flight.
//
// Key material comes from a Source. HTTPSource performs the HTTPS GET against
// the provider; SharedSource layers a keystore.Store in front of another
// Source so that several replicas can share one fetched document.
package jwks
