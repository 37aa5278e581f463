// Package auth implements API credential issuance and verification for the
// CurbSight platform. Provider tokens are bearer credentials: the plaintext
// is shown once at creation, only a bcrypt hash is stored, and lookups go
// through a short non-secret prefix to bound the hash comparisons.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// tokenPrefixLen is the length of the stored lookup prefix, including the
// scheme tag. Long enough to keep prefix collisions rare, short enough to
// stay non-secret.
const tokenPrefixLen = 12

// tokenScheme tags CurbSight tokens so leaked credentials are attributable
// in secret scanners.
const tokenScheme = "cbs_"

// GenerateToken creates a new plaintext API token and its lookup prefix.
// The plaintext is returned exactly once; callers must hash it before
// storage.
func GenerateToken() (plaintext, prefix string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generating token entropy: %w", err)
	}
	plaintext = tokenScheme + hex.EncodeToString(buf)
	return plaintext, plaintext[:tokenPrefixLen], nil
}

// Prefix returns the lookup prefix of a presented token, or "" when the
// token is too short to carry one.
func Prefix(token string) string {
	if len(token) < tokenPrefixLen {
		return ""
	}
	return token[:tokenPrefixLen]
}

// HashToken bcrypt-hashes a plaintext token for storage.
func HashToken(plaintext string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", fmt.Errorf("hashing token: %w", err)
	}
	return string(hash), nil
}

// VerifyToken reports whether the plaintext matches the stored hash.
func VerifyToken(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
