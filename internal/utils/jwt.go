// Package utils provides token signing and key hashing helpers.
package utils

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleOperator is the only role that can reach the operator routes.
const RoleOperator = "OPERATOR"

// downloadAudience scopes download tokens so an operator token cannot be
// replayed as a customer link and vice versa.
const downloadAudience = "certificate-download"

// ErrInvalidLink is returned for download tokens that fail verification.
var ErrInvalidLink = errors.New("invalid or expired download link")

// AccessToken is a signed operator JWT and its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// OperatorClaims are the claims carried by operator tokens.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// NewOperatorToken signs an HS256 token for subject with the given role.
func NewOperatorToken(secret, subject, role string, ttl time.Duration) (AccessToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := OperatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// ParseOperatorToken verifies raw and returns its claims. Download tokens
// are rejected.
func ParseOperatorToken(secret, raw string) (*OperatorClaims, error) {
	claims := &OperatorClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	for _, aud := range claims.Audience {
		if aud == downloadAudience {
			return nil, errors.New("invalid token")
		}
	}
	return claims, nil
}

// NewDownloadToken signs a link token that unlocks orderID's certificate
// until ttl has passed.
func NewDownloadToken(secret, orderID string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   orderID,
		Audience:  jwt.ClaimStrings{downloadAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyDownloadToken checks that raw is a live download token for orderID.
func VerifyDownloadToken(secret, raw, orderID string) error {
	var claims jwt.RegisteredClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(downloadAudience),
		jwt.WithSubject(orderID),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid {
		return ErrInvalidLink
	}
	return nil
}

// randomHex returns n random bytes, hex encoded.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
