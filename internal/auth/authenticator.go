package auth

import (
	"fmt"
)

// Authenticator verifies configured accounts and issues access tokens.
// It is a read-only view over the accounts declared in configuration:
// nothing to persist, nothing to lock.
type Authenticator struct {
	users      map[string]User
	secret     string
	ttlMinutes int
}

// NewAuthenticator builds an authenticator from configured accounts.
//
// Parameters:
//   - users: the accounts declared in configuration
//   - secret: the JWT signing secret
//   - ttlMinutes: access token lifetime in minutes
func NewAuthenticator(users []User, secret string, ttlMinutes int) *Authenticator {
	byName := make(map[string]User, len(users))
	for _, user := range users {
		byName[user.Username] = user
	}
	return &Authenticator{users: byName, secret: secret, ttlMinutes: ttlMinutes}
}

// Login verifies a username/password pair and returns a signed access
// token together with the account it belongs to. Unknown usernames and
// wrong passwords yield the same error, and both paths pay the full
// Argon2id verification cost so response timing does not reveal whether
// the account exists.
func (a *Authenticator) Login(username, password string) (string, User, error) {
	user, ok := a.users[username]
	if !ok {
		_, _ = VerifyPassword(password, dummyHash)
		return "", User{}, ErrInvalidCredentials
	}

	match, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return "", User{}, fmt.Errorf("verifying password: %w", err)
	}
	if !match {
		return "", User{}, ErrInvalidCredentials
	}

	token, err := GenerateAccessToken(user, a.secret, a.ttlMinutes)
	if err != nil {
		return "", User{}, err
	}
	return token, user, nil
}

// Parse validates a bearer token against the configured secret.
func (a *Authenticator) Parse(token string) (*CustomClaims, error) {
	return ParseToken(token, a.secret)
}

// TTLMinutes returns the configured access token lifetime.
func (a *Authenticator) TTLMinutes() int {
	return a.ttlMinutes
}
