// Package auth issues and verifies the short-lived grant tokens minted by
// the access evaluator. A grant token binds one successful share-access
// evaluation to one file version, so the download path can trust it without
// re-running the evaluation.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidGrant = errors.New("invalid grant token")

// GrantClaims carries the link and file version a grant refers to.
type GrantClaims struct {
	jwt.RegisteredClaims
	LinkID        string `json:"link_id"`
	FileVersionID string `json:"file_version_id"`
}

// GenerateGrantToken signs a token valid for the given duration.
func GenerateGrantToken(linkID, fileVersionID string, secretKey []byte, validity time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, GrantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		LinkID:        linkID,
		FileVersionID: fileVersionID,
	})
	return token.SignedString(secretKey)
}

// ParseGrantToken verifies the signature and expiry and returns the claims.
func ParseGrantToken(tokenString string, secretKey []byte) (*GrantClaims, error) {
	claims := &GrantClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return secretKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrInvalidGrant
	}
	if !token.Valid {
		return nil, ErrInvalidGrant
	}
	return claims, nil
}
