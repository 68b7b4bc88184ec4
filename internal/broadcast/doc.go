// Package broadcast is the delivery engine: it takes an operator-authored
// message plus a target-audience descriptor and fans it out to Telegram
// recipients with bounded concurrency, a shared token-bucket rate limit,
// bounded retries, and per-recipient outcome tracking.
//
// Delivery semantics
//
// Every recipient of a job yields exactly one terminal Outcome (sent,
// blocked, or failed). Recipient-level failures are absorbed into the
// aggregate tally; only job-level failures (validation, empty audience,
// persistence) surface to the caller. Partial success is a normal result,
// not an error.
//
// Test sends run the same resolve/dispatch/aggregate pipeline against a
// fixed, configured recipient set and are never persisted to history.
package broadcast
