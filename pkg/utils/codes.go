package utils

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// codeBytes is the entropy of a secret code (192 bits).
const codeBytes = 24

// NewCode generates an opaque secret code: 24 random bytes, URL-safe
// base64 without padding. Codes are capabilities (admin code, voter code)
// and must not be derivable from any other identifier.
func NewCode() (string, error) {
	b := make([]byte, codeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashCode returns the hex-encoded BLAKE2b-256 digest of a code.
// Codes are stored and indexed only by this digest, so a leaked database
// row does not yield a usable credential; lookups hash the presented code
// first. The digest is deterministic, which is what makes it usable as a
// lookup key (unlike bcrypt-style salted hashes).
func HashCode(code string) string {
	sum := blake2b.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
