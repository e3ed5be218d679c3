// Package audit implements async event dispatching for OTP protocol operations.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, slog, no-op).
//   - [Dispatcher]: single-goroutine relay; full buffers either drop or block, and every lost event is counted.
//   - [Event]: structured audit record with ULID, timestamp, type, purpose, subject, IP, metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit. That responsibility belongs to the Engine and flow functions.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goOTP or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
