// Package password implements argon2id hashing and verification.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher] supports transparent parameter upgrades: when a stored hash was
// produced with weaker parameters than the current config,
// [Hasher.NeedsUpgrade] returns true so the caller can re-hash on the next
// successful verification. [Pool] wraps a Hasher with a weighted semaphore to
// bound concurrent key derivations.
//
// The package owns hashing only. Policy beyond minimum length, storage, and
// upgrade scheduling belong to the engine.
package password
