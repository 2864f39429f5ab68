// Package cryptox wraps the one-way hashing used for post and admin
// passwords.
package cryptox

import (
	"golang.org/x/crypto/bcrypt"
)

// PasswordVerifier hashes secrets and checks them against stored hashes.
// Verify reports a mismatch as false and never fails, so callers choose
// the error they surface.
type PasswordVerifier interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) bool
}

// BcryptVerifier is a PasswordVerifier backed by bcrypt.
type BcryptVerifier struct {
	cost int
}

// NewBcryptVerifier returns a verifier with the given cost. Costs outside
// bcrypt's accepted range fall back to bcrypt.DefaultCost.
func NewBcryptVerifier(cost int) *BcryptVerifier {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptVerifier{cost: cost}
}

// Hash returns the bcrypt hash of secret. bcrypt rejects inputs longer than
// 72 bytes.
func (v *BcryptVerifier) Hash(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), v.cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (v *BcryptVerifier) Verify(secret, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}
