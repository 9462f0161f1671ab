// Package authplane provides a multi-tenant identity and session layer
// with JWT access tokens, single-use rotating refresh tokens, layered
// brute-force throttling, and TOTP-based MFA with encrypted secrets and
// single-use recovery codes.
//
// The package is designed for concurrent server workloads: Engine
// methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authplane is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (LoginResult, AuthResult, MetricsSnapshot,
// etc.). Internal coordination — brute-force policy, TOTP code math,
// audit dispatch — lives under internal/ and is never exported. Storage
// contracts live in the store package with Postgres and in-memory
// implementations.
//
// # Tenancy contract
//
// Every operation takes the tenant ID explicitly. The engine never
// infers tenancy from ambient state, and a missing tenant is a client
// error ([ErrMissingTenant]), not a default.
//
// # What this package must NOT do
//
//   - Expose Redis clients, store internals, or token encoding details
//     in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder
//     is allocation-only until Build).
//   - Treat the Redis counter cache as a lockout authority; the attempt
//     store is the source of truth.
//
// # Performance contract
//
// Validate is the hot path: one HMAC signature check plus one session
// read. Login and Refresh are allowed one argon2 verification and a
// handful of store round-trips per call.
package authplane
