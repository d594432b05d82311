// Package auth issues and verifies the bearer tokens that bind a request to
// a principal id. Principal ids are public; only a token proves one.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "monobank"

var ErrInvalidToken = errors.New("invalid_token")

type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner signs with secret. An empty secret is replaced by a random one,
// so issued tokens stop verifying after a restart.
func NewSigner(secret string) (*Signer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}
	return &Signer{secret: key, now: time.Now}, nil
}

func (s *Signer) Issue(principalID string) (string, error) {
	if strings.TrimSpace(principalID) == "" {
		return "", errors.New("empty principal id")
	}
	claims := jwt.RegisteredClaims{
		Issuer:   issuer,
		Subject:  principalID,
		IssuedAt: jwt.NewNumericDate(s.now()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// NewPrincipal mints a principal id together with its token.
func (s *Signer) NewPrincipal() (principalID, token string, err error) {
	principalID = uuid.NewString()
	token, err = s.Issue(principalID)
	return principalID, token, err
}

// Verify returns the principal id the token was issued for.
func (s *Signer) Verify(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
