package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	JWTIssuer       = "photo_gallery_app"
	TokenCookieName = "token"
)

type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// NewAccessToken signs a token whose subject is the user id.
func (t *TokenIssuer) NewAccessToken(user User) (string, error) {
	now := t.now()
	claims := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Issuer:    JWTIssuer,
		Subject:   user.ID,
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	})

	token, err := claims.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return token, nil
}

// VerifyAccessToken checks signature, algorithm, issuer and expiry and returns
// the user id carried by the token.
func (t *TokenIssuer) VerifyAccessToken(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}

	tkn, err := jwt.ParseWithClaims(token, claims,
		func(token *jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
	)
	if err != nil || !tkn.Valid {
		return "", ErrInvalidOrExpiredToken
	}

	if !claims.VerifyIssuer(JWTIssuer, true) || claims.Subject == "" {
		return "", ErrInvalidOrExpiredToken
	}

	return claims.Subject, nil
}
