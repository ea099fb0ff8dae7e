// Package hashing is the single place digests are computed. Content
// addressing only: no key material, no salt. A digest proves what bytes were
// hashed, not who hashed them.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
)

// Size is the digest length in bytes (SHA-256).
const Size = sha256.Size

// Digest computes the SHA-256 digest of the input.
func Digest(b []byte) [Size]byte {
	return sha256.Sum256(b)
}

// DigestHex computes the SHA-256 digest and returns it as a lowercase hex
// string, the canonical textual form stored on records.
func DigestHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
