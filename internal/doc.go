// Package internal contains helpers that are private to goOTP: passcode
// generation, keyed passcode hashing, and staged token identifiers.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function orchestrators for initiate, verify, consume, status and cancel
//   - limiters: initiate/verify throttles built on rate
//   - rate: core Redis-backed fixed-window counters
//   - stores: Redis challenge, payload, lockout and token ledger records
//
// # What this package must NOT do
//
//   - Export types that appear in the public goOTP API.
//   - Be imported by any package outside the goOTP module.
package internal
