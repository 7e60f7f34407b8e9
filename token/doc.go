// Package token mints and verifies the signed access tokens issued by the
// engine, supporting HS256 and Ed25519 with key-id based rotation overlap.
package token
