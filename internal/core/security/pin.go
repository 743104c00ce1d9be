package security

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrPinMismatch is returned when a PIN does not match its stored hash.
var ErrPinMismatch = errors.New("pin does not match")

// HashPin hashes a PIN with bcrypt. Only the hash is ever stored.
func HashPin(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash pin: %w", err)
	}
	return string(hash), nil
}

// ComparePin checks a provided PIN against the stored bcrypt hash.
func ComparePin(hash, pin string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrPinMismatch
	}
	return err
}

// ValidPinFormat accepts 4 to 6 ASCII digits.
func ValidPinFormat(pin string) bool {
	if len(pin) < 4 || len(pin) > 6 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
