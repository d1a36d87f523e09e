package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	JobTokenIssuer = "postflow"
	ScopePublish   = "jobs:publish"
)

// JobClaims authorise an external scheduler to trigger publication passes.
type JobClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

func GenerateJobToken(secretKey, subject string, tokenDuration time.Duration) (string, error) {
	now := time.Now()
	claims := JobClaims{
		Scope: ScopePublish,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    JobTokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secretKey))
}

func ValidateJobToken(secretKey, tokenString string) (*JobClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JobClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid token signing method")
		}
		return []byte(secretKey), nil
	}, jwt.WithIssuer(JobTokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JobClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Scope != ScopePublish {
		return nil, errors.New("token does not grant publish scope")
	}
	return claims, nil
}
