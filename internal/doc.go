// Package internal holds helpers private to the module: secure random
// code generation and hashing for verification codes.
//
// # Sub-packages
//
//   - audit — async event dispatch (Dispatcher + Sink implementations)
//   - guard — Redis fixed-window rate limiting with block markers
//   - stores — short-lived Redis record stores for in-flight verification
package internal
