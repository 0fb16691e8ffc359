// Package auth implements the shared-PIN capability token.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrUnauthorized is returned for a wrong PIN or token. It never says which.
var ErrUnauthorized = errors.New("Unauthorized")

// Gate validates PINs and the bearer token derived from them. The token is
// the sha256 hex digest of the PIN and carries no identity or expiry.
type Gate struct {
	token string
}

// NewGate derives the token from the configured PIN.
func NewGate(pin string) (*Gate, error) {
	if strings.TrimSpace(pin) == "" {
		return nil, errors.New("NewGate: pin is empty")
	}
	return &Gate{token: HashPIN(pin)}, nil
}

// HashPIN returns the lowercase sha256 hex digest of pin.
func HashPIN(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}

// Token is the bearer token accepted by protected endpoints.
func (g *Gate) Token() string {
	return g.token
}

// Exchange returns the token for a correct PIN.
func (g *Gate) Exchange(pin string) (string, error) {
	if !g.Valid(HashPIN(pin)) {
		return "", ErrUnauthorized
	}
	return g.token, nil
}

// Valid compares a caller-supplied token in constant time. The comparison is
// case-sensitive.
func (g *Gate) Valid(token string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(g.token)) == 1
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
