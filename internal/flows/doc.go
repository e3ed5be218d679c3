// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunInitiate, RunVerify, RunConsume, RunStatus, RunCancel)
// accepts a typed dependency struct and returns results without side-effects
// beyond those dependencies. The Engine builds the dependency structs once and
// stays a thin delegate.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the challenge store, token ledger, JWT
// manager, throttles, delivery gateway, finalizers, audit dispatcher and
// metrics. They do NOT own any of these resources. Atomicity of each step is
// the store's job; flows only order the steps and classify the results.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goOTP (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency functions.
//   - Log or audit raw passcodes or signed tokens.
package flows
