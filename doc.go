// Package goOTP implements one-time-passcode verification with staged,
// single-use credentials for sensitive account mutations such as
// registration and password reset.
//
// A flow runs in three steps for a (subject, purpose) pair:
//
//	Initiate -> passcode delivered out of band, challenge stored
//	Verify   -> passcode checked, staged token minted
//	Consume  -> token spent, purpose finalizer runs
//
// Every purpose shares the same engine; only its [PurposeConfig] and its
// [Finalizer] differ.
//
// # Architecture boundaries
//
// goOTP is the public surface: [Engine], [Builder], [Config] and the error
// taxonomy. Flow orchestration, Redis scripts, throttles and audit dispatch
// live under internal/. All protocol state lives in Redis, so engines in
// separate processes can serve the same pairs.
//
// # Concurrency contract
//
// Every multi-key transition is a single Lua script. Concurrent correct
// Verify calls for one challenge produce exactly one token; concurrent wrong
// ones are each counted. A staged token is honored at most once, and minting
// a new token for a pair revokes the previous one.
//
// # Errors
//
// Only [ErrStoreUnavailable] is transient (see [IsRetryable]). Everything
// else is a protocol outcome the caller surfaces to the user.
package goOTP
