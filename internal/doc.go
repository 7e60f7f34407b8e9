// Package internal holds helpers private to credkit: opaque-token encoding
// and secure random generation shared by the stores.
//
// Sub-packages:
//
//   - limiters — fixed-window throttles and the two-factor lockout counter
//   - stores — Redis-backed record stores (refresh, reset, verification,
//     oauth state, replay guard)
package internal
