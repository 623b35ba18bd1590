package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword is returned when hashing a blank password.
var ErrEmptyPassword = errors.New("password is empty")

// HashPassword hashes an operator password for AUTH_OPERATORS. A cost outside
// bcrypt's range falls back to bcrypt.DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// OperatorEntry renders one "name:hash" item of AUTH_OPERATORS.
func OperatorEntry(operatorID, hash string) (string, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" || strings.ContainsAny(operatorID, ":,") {
		return "", errors.New("operator id must be non-empty and free of ':' and ','")
	}
	return operatorID + ":" + hash, nil
}

// ComparePassword verifies a password against its hashed value.
func ComparePassword(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
