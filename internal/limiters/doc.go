// Package limiters applies the passcode throttling policy on top of
// internal/rate counters.
//
// [OTPLimiter] counts initiate calls per (purpose, subject) and per client IP
// and verify calls per client IP. A nil *OTPLimiter allows everything, which
// is how the engine runs with throttling disabled.
//
// Limiters only count. The flows decide what a denial means.
package limiters
