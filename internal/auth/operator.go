package auth

import (
	"crypto/subtle"
	"fmt"
)

// Operator checks logins against the configured operator account.
type Operator struct {
	username     string
	passwordHash string
}

// NewOperator creates an Operator for username with an Argon2id PHC hash.
func NewOperator(username, passwordHash string) *Operator {
	return &Operator{username: username, passwordHash: passwordHash}
}

// Authenticate returns the operator's role when the credentials match.
// Wrong usernames still pay for a hash so timing does not reveal them.
func (o *Operator) Authenticate(username, password string) (Role, error) {
	if o.passwordHash == "" {
		return "", ErrNotConfigured
	}

	ok, err := VerifyPassword(password, o.passwordHash)
	if err != nil {
		return "", fmt.Errorf("verifying operator password: %w", err)
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(o.username)) == 1
	if !ok || !userOK {
		return "", ErrInvalidCredentials
	}
	return RoleAdmin, nil
}
