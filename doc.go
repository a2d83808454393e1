// Package adminauth implements the administrative authentication and
// verification engine for the NextWhatsApp console: password login with
// account lockout, TOTP and single-use backup codes as a second factor,
// SMS step-up verification for critical actions, Redis-backed rate
// limiting, and revocable session credentials.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// adminauth is the public surface. It exposes [Engine], [Builder],
// [Config], sentinel errors, and value types. Flow coordination, Redis
// stores, and audit dispatch live under internal/ and are never exported.
// External collaborators are narrow interfaces: [IdentityStore] for the
// account database, [sms.Gateway] for code delivery, and
// [session.Issuer] for session credentials. The engine never talks to a
// vendor SDK directly.
//
// # Failure policy
//
// Rate limiting fails open when Redis is unreachable: availability is
// preferred over strict enforcement during an infrastructure outage, and
// every such decision is logged. Credential, second-factor, and session
// checks fail closed; they gate access and must deny when their backend
// is down.
package adminauth
