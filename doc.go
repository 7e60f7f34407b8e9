// Package credkit is an embeddable credential and session lifecycle engine:
// signed access tokens with rotating opaque refresh tokens and family-based
// theft detection, TOTP second-factor step-up, federated identity linking
// over OAuth2, and single-use password-reset and email-verification tokens.
//
// The engine owns no HTTP surface and no account storage. Callers implement
// [AccountRepository] over their account store and optionally [Dispatcher]
// for out-of-band delivery; engine-owned state (refresh records, one-time
// tokens, counters) lives in Redis. Construct through the builder:
//
//	engine, err := credkit.New().
//		WithConfig(credkit.Config{...}).
//		WithRedis(client).
//		WithAccounts(repo).
//		WithDispatcher(mailer).
//		Build()
//
// All Engine methods are safe for concurrent use; every double-use-sensitive
// transition (refresh rotation, reset consumption, partial-token upgrade) is
// a single atomic Redis operation, so multiple engine instances can share
// one Redis without coordination.
package credkit
