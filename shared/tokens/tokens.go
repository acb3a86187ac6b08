package tokens

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UnsubscribeClaims represents the signed payload embedded in
// unsubscribe links. The email is normalized before signing so the
// verifier matches ledger rows directly.
type UnsubscribeClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SignUnsubscribe produces a signed unsubscribe token for an email
// address. Tokens deliberately carry no expiry: an unsubscribe link in
// an old email must keep working.
func SignUnsubscribe(secret, email string) (string, error) {
	claims := UnsubscribeClaims{
		Email: NormalizeEmail(email),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
			Issuer:   "pulsar-mailer",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign unsubscribe token: %w", err)
	}
	return signed, nil
}

// VerifyUnsubscribe validates a signed unsubscribe token and returns
// the normalized email it was issued for.
func VerifyUnsubscribe(secret, tokenString string) (string, error) {
	claims := &UnsubscribeClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid unsubscribe token: %w", err)
	}
	if !token.Valid || claims.Email == "" {
		return "", fmt.Errorf("invalid unsubscribe token")
	}
	return claims.Email, nil
}

// NormalizeEmail lowercases and trims an email address for matching
// against the ledger.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
