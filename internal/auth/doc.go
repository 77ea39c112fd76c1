// Package auth issues and verifies the JWT access tokens that guard the
// shellylink HTTP API.
//
// There are no user accounts: an operator mints tokens with the
// `shellylink token` command using the configured secret. Each token carries
// a subject and one of two roles:
//
//   - viewer: read connection state, devices and history
//   - operator: everything a viewer can do, plus switching and reconnecting
//
// Role permissions are a static map; no database lookup is involved.
package auth
