// Package audit defines the audit event model, sink implementations,
// and the async dispatcher that decouples auth flows from sink latency.
package audit
