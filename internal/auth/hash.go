// Package auth provides credential hashing for the account store.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashPassword returns the SHA-256 digest of the password as a 64-character
// lowercase hex string. The transform is deterministic so the account store
// can match credentials with a single equality query.
//
// No per-user salt is applied; this mirrors the legacy credential scheme and
// is a known limitation rather than a hardening choice.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}
