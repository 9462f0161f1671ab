// Package store defines the relational persistence contract consumed by
// the engine: sessions, refresh tokens, token revocations, login
// attempts, and MFA secrets with their recovery codes.
//
// Implementations live in store/postgres (production) and store/memory
// (tests and examples). Every mutation that participates in a security
// state machine is expressed as a conditional single-row write, so the
// engine never needs explicit locks.
package store
