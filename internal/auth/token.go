package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrMalformedToken is returned by ParseToken for tokens not shaped
// "<userID>.<secret>".
var ErrMalformedToken = errors.New("malformed token")

// Cost is the bcrypt cost used for new token hashes.
var Cost = bcrypt.DefaultCost

// NewToken generates a user token and the hash to persist for it. The token
// is only ever shown to the caller once.
func NewToken(userID string) (token, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	hash, err = HashSecret(secret)
	if err != nil {
		return "", "", err
	}
	return userID + "." + secret, hash, nil
}

// ParseToken splits a token into its user ID and secret.
func ParseToken(token string) (userID, secret string, err error) {
	userID, secret, ok := strings.Cut(token, ".")
	if !ok || userID == "" || secret == "" {
		return "", "", ErrMalformedToken
	}
	return userID, secret, nil
}

// HashSecret returns the bcrypt hash of secret.
func HashSecret(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), Cost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(b), nil
}

// CheckSecret reports whether secret matches hash.
func CheckSecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

var (
	unknownOnce sync.Once
	unknownHash string
)

// UnknownUserHash returns a bcrypt hash, at Cost, that matches no token
// secret. Comparing against it when a user is missing makes the miss cost
// the same as a wrong secret.
func UnknownUserHash() string {
	unknownOnce.Do(func() {
		b, err := bcrypt.GenerateFromPassword([]byte("laundry_scan unknown user"), Cost)
		if err != nil {
			panic(fmt.Sprintf("auth: hash unknown user: %v", err))
		}
		unknownHash = string(b)
	})
	return unknownHash
}
