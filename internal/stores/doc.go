// Package stores provides the Redis-backed, short-lived records behind the
// OTP protocol: the challenge, the pending and staged payloads, the lockout
// marker and the single-use token ledger.
//
// # Design
//
// Every record for a (purpose, subject) pair lives under the same Redis
// Cluster hash tag so multi-key transitions run as one Lua script. The
// challenge is a versioned, fixed-size binary record. Failed attempts rewrite
// the record with its remaining PTTL, never extending it. A correct attempt
// deletes the challenge and activates the token mirror in the same script, so
// only one concurrent caller can redeem a code.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control. It does NOT
// generate passcodes or tokens, enforce rate limits, call delivery gateways
// or finalizers. Those belong to internal/flows and the root engine.
//
// # What this package must NOT do
//
//   - Import goOTP or any sibling internal package.
//   - Log or store plaintext passcodes.
//   - Depend on in-process locks for correctness.
package stores
