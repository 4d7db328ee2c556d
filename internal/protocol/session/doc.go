// Package session owns link reliability settings and retry primitives.
//
// Ownership boundary:
// - per-send retry budget and backoff
// - liveness probe timeout and style
// - topology settle delay
package session
