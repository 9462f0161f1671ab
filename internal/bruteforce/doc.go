// Package bruteforce provides internal throttling primitives for login
// and MFA verification: a pure escalation policy over windowed failure
// counts, and a guard that reads those counts from the attempt store
// with an optional Redis counter cache in front.
//
// # Window semantics
//
// Two independent, overlapping windows: per-identifier and per-IP.
// Counts come from the append-only login attempt store; the cache holds
// fixed-window counters (INCR + conditional EXPIRE on first hit) and is
// only an accelerator. A cache hit at a lock level is always confirmed
// against the store before the guard denies.
//
// # What this package must NOT do
//
//   - Decide what a login failure is (the engine records outcomes).
//   - Be imported outside the authplane module.
package bruteforce
