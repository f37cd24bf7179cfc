package utils

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for new password hashes. Tests lower it to
// bcrypt.MinCost.
var BcryptCost = bcrypt.DefaultCost

// HashPassword hashes a plain password using bcrypt.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// CheckPassword reports whether plain matches the bcrypt hash.
func CheckPassword(plain, hashed string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}
