package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// OpaqueTokenBytes is the entropy of refresh and reset tokens.
const OpaqueTokenBytes = 32

// TokenGenerator creates opaque secrets and the digests they are stored under.
type TokenGenerator interface {
	Generate() (string, error)
	Digest(plaintext string) string
}

// SecureTokenGenerator draws tokens from crypto/rand.
type SecureTokenGenerator struct{}

// Generate returns 32 random bytes, base64url encoded without padding.
func (SecureTokenGenerator) Generate() (string, error) {
	b := make([]byte, OpaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Digest returns the lowercase hex SHA-256 of the plaintext.
func (SecureTokenGenerator) Digest(plaintext string) string {
	return DigestToken(plaintext)
}

// DigestToken returns the lowercase hex SHA-256 of plaintext.
func DigestToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
