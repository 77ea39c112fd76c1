// Package api implements the HTTP REST API and WebSocket server for shellylink.
//
// This package provides:
//   - REST endpoints for connection state, discovered devices, device
//     history and switch control
//   - A raw RPC passthrough for methods without a typed helper
//   - WebSocket hub for presence, status and connection state broadcasts
//   - JWT authentication with viewer and operator roles
//   - Middleware stack (request ID, logging, recovery, CORS, rate limit)
//   - Optional Prometheus scrape endpoint at /metrics
//
// # Architecture
//
// The API is an observer of the transport session. Reads come from the
// presence tracker and the session's Info snapshot; writes go through the
// request correlator, so a switch command returns only once the device has
// replied or the call has timed out.
//
// # Errors
//
// Device-side failures map to 502 (device_error), call timeouts to 504 and
// a missing broker connection to 503. Every error body has the shape
// {"status", "code", "message"}.
package api
