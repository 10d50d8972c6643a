// Package install plans and executes server installations. Plan maps a
// package's transport and auth requirement to a canonical step sequence; the
// Orchestrator runs one session per server through those steps, suspending
// on the authorization handshake when the plan starts with it, and emits a
// snapshot stream the caller can render.
//
// Step statuses only ever move forward (pending, loading, then success or
// error) and a failed step freezes everything after it.
package install
