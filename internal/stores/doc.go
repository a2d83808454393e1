// Package stores provides Redis-backed, short-lived record stores for
// in-flight authentication state: pending two-factor logins, SMS
// step-up attempts and grants, and unconfirmed TOTP provisioning
// material.
//
// # Design
//
// Each store persists a versioned, binary-encoded record in Redis with
// a TTL. Mutation operations use WATCH/MULTI optimistic transactions
// with automatic retry on contention. Records are single-use: consumed
// or deleted on success, with attempt budgets where brute force is a
// concern.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// records. It does NOT generate codes, enforce rate limits, or make
// authentication decisions.
package stores
