// Package stores holds the Redis-backed record stores the engine owns:
// rotating refresh-token records with family-level revocation, single-use
// password-reset and email-verification tokens, anti-forgery OAuth states,
// and the two-factor replay guard.
//
// Records are versioned binary blobs with a TTL. Every double-use-sensitive
// transition is a single atomic Redis operation: a Lua script where the check
// and the write must be one round trip, or a WATCH/MULTI optimistic
// transaction with bounded retry. Secret comparisons on the Go side are
// constant time; script-side comparisons only ever see sha256 digests of
// high-entropy secrets.
//
// The package owns persistence and concurrency control only. Token policy,
// rate limiting, and authentication decisions live in the engine.
package stores
