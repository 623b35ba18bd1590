package auth

import (
	"errors"
	"time"
)

// ErrInvalidCredentials is returned for unknown operators and wrong
// passwords alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Operators authenticates shop operators configured with bcrypt hashes.
type Operators struct {
	hashes      map[string]string
	supervisors map[string]struct{}
	tokens      *TokenManager
}

// NewOperators builds the operator directory.
func NewOperators(hashes map[string]string, supervisors []string, tokens *TokenManager) *Operators {
	set := make(map[string]struct{}, len(supervisors))
	for _, name := range supervisors {
		set[name] = struct{}{}
	}
	copied := make(map[string]string, len(hashes))
	for name, hash := range hashes {
		copied[name] = hash
	}
	return &Operators{hashes: copied, supervisors: set, tokens: tokens}
}

// Login checks the password and issues a token.
func (o *Operators) Login(operatorID, password string) (string, time.Time, Role, error) {
	hash, ok := o.hashes[operatorID]
	if !ok {
		return "", time.Time{}, "", ErrInvalidCredentials
	}
	if err := ComparePassword(hash, password); err != nil {
		return "", time.Time{}, "", ErrInvalidCredentials
	}
	role := o.RoleOf(operatorID)
	token, exp, err := o.tokens.GenerateToken(operatorID, role)
	if err != nil {
		return "", time.Time{}, "", err
	}
	return token, exp, role, nil
}

// RoleOf returns the operator's role.
func (o *Operators) RoleOf(operatorID string) Role {
	if _, ok := o.supervisors[operatorID]; ok {
		return RoleSupervisor
	}
	return RoleOperator
}
