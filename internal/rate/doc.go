// Package rate provides the Redis fixed-window counter that every goOTP
// throttle is built on.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. A hit that
// exceeds the window's Max returns [ErrRateLimited] together with the time
// left in the window.
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Be imported outside the goOTP module.
package rate
