package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "go-achats"

var ErrInvalidToken = errors.New("invalid token")

// Claims are the bearer token claims. Subject holds the user id.
type Claims struct {
	jwt.RegisteredClaims
	UserID        uint   `json:"uid"`
	Profile       string `json:"profile,omitempty"`
	DepartementID uint   `json:"dept,omitempty"`
}

// IssueToken signs an HS256 token for the user.
func IssueToken(userID uint, profile string, departementID uint) (string, time.Time, error) {
	o := current()
	now := time.Now()
	exp := now.Add(o.TokenTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		UserID:        userID,
		Profile:       profile,
		DepartementID: departementID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(o.TokenSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseToken validates signature, algorithm, issuer and expiry.
func ParseToken(tokenStr string) (*Claims, error) {
	secret := []byte(current().TokenSecret)
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
