package crypto

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt reads at most 72 bytes, so secrets are digested first to keep
// multi-byte passwords from being truncated.
func digest(plain string) []byte {
	sum := sha256.Sum256([]byte(plain))
	out := make([]byte, hex.EncodedLen(len(sum)))
	hex.Encode(out, sum[:])
	return out
}

// HashPassword hashes plaintext using bcrypt.
func HashPassword(plain string) ([]byte, error) {
	return bcrypt.GenerateFromPassword(digest(plain), bcrypt.DefaultCost)
}

// ComparePassword compares plaintext to hashed secret. A nil error means match.
func ComparePassword(hash []byte, plain string) error {
	if len(hash) == 0 {
		return bcrypt.ErrMismatchedHashAndPassword
	}
	return bcrypt.CompareHashAndPassword(hash, digest(plain))
}
