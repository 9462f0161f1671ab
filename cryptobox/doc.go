// Package cryptobox holds the credential-grade primitives used by the
// engine: argon2id password hashing in PHC string format, AES-256-GCM
// sealing for MFA secret material, and one-way token digests for
// equality lookups.
package cryptobox
