package main

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)

	token, err := issuer.NewAccessToken(User{ID: "user-1"})
	require.NoError(t, err)

	id, err := issuer.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)
}

func TestTokenIssuer_Expired(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := issuer.NewAccessToken(User{ID: "user-1"})
	require.NoError(t, err)

	_, err = issuer.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	now := time.Now()

	sign := func(method jwt.SigningMethod, claims jwt.RegisteredClaims, secret string) string {
		token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return token
	}

	valid := jwt.RegisteredClaims{
		Issuer:    JWTIssuer,
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	wrongIssuer := valid
	wrongIssuer.Issuer = "someone_else"

	noSubject := valid
	noSubject.Subject = ""

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "malformed", token: "not.a.jwt"},
		{name: "wrong secret", token: sign(jwt.SigningMethodHS512, valid, "other-secret")},
		{name: "wrong algorithm", token: sign(jwt.SigningMethodHS256, valid, "test-secret")},
		{name: "wrong issuer", token: sign(jwt.SigningMethodHS512, wrongIssuer, "test-secret")},
		{name: "no subject", token: sign(jwt.SigningMethodHS512, noSubject, "test-secret")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.VerifyAccessToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
		})
	}
}
