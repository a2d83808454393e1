// Package session issues, verifies, and revokes admin session
// credentials. Two Issuer implementations share the contract: TokenIssuer
// mints self-contained HS256 tokens, DelegatedIssuer exchanges a signed
// assertion with an external identity provider for an opaque cookie
// value. Both record every live session in a Redis registry so
// revocation is immediate regardless of token lifetime.
package session
