package connect

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the entropy of a pairing token; hex-encoded it yields a
// 64-character string.
const tokenBytes = 32

// newToken returns a cryptographically random pairing token. Uniqueness is
// not checked here; the store's unique constraint rejects a collision.
func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
