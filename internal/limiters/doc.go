// Package limiters provides the Redis-counter rate limiters the engine
// uses: [Throttle], a fixed-window budget for login, refresh, and register
// attempts, and [TwoFactorLimiter], the consecutive-failure lockout for
// second-factor codes.
//
// Counters use INCR with the window TTL set on the first hit. Limiters own
// their key namespaces and report counting outcomes only; the engine decides
// consequences.
package limiters
