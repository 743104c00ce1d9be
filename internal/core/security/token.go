package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "gowallet"

// Claims identify the caller. Role is informational only; authorization
// decisions re-read the role from the account store.
type Claims struct {
	MobileNumber string `json:"mobileNumber"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 bearer tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token and its expiry.
func (t *Tokens) Issue(mobileNumber, email, role string) (string, time.Time, error) {
	expiresAt := t.now().Add(t.ttl)
	claims := &Claims{
		MobileNumber: mobileNumber,
		Email:        email,
		Role:         role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   mobileNumber,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(t.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

func (t *Tokens) key(*jwt.Token) (interface{}, error) {
	return t.secret, nil
}

// Parse verifies the signature and expiry and returns the claims.
func (t *Tokens) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, t.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
