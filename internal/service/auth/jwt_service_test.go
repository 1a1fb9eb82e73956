package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/phrazzld/recall/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	secret      = "test-secret-that-is-long-enough-for-testing"
	wrongSecret = "wrong-secret-that-is-long-enough-for-testing"
)

var fixedTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func at(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestGenerateToken(t *testing.T) {
	t.Parallel()

	svc, err := newTokenService(secret, time.Hour, at(fixedTime))
	require.NoError(t, err)

	token, err := svc.GenerateToken(context.Background(), "laptop")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "laptop", claims.DeviceID)
	assert.Equal(t, tokenTypeDevice, claims.TokenType)
	assert.Equal(t, fixedTime.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, fixedTime.Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
	assert.NotEmpty(t, claims.ID)

	_, err = svc.GenerateToken(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyDeviceID)
}

func TestValidateToken(t *testing.T) {
	t.Parallel()

	issue := func(t *testing.T, key string, now time.Time) string {
		t.Helper()
		svc, err := newTokenService(key, time.Hour, at(now))
		require.NoError(t, err)
		token, err := svc.GenerateToken(context.Background(), "laptop")
		require.NoError(t, err)
		return token
	}

	sign := func(t *testing.T, claims jwt.Claims) string {
		t.Helper()
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return token
	}

	tests := []struct {
		name    string
		token   func(t *testing.T) string
		wantErr error
	}{
		{"valid", func(t *testing.T) string { return issue(t, secret, fixedTime) }, nil},
		{"within clock skew", func(t *testing.T) string { return issue(t, secret, fixedTime.Add(-61*time.Minute)) }, nil},
		{"expired", func(t *testing.T) string { return issue(t, secret, fixedTime.Add(-2*time.Hour)) }, ErrExpiredToken},
		{"issued in the future", func(t *testing.T) string {
			return sign(t, jwtDeviceClaims{
				TokenType: tokenTypeDevice,
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    issuer,
					Subject:   "laptop",
					NotBefore: jwt.NewNumericDate(fixedTime.Add(time.Hour)),
					ExpiresAt: jwt.NewNumericDate(fixedTime.Add(2 * time.Hour)),
				},
			})
		}, ErrTokenNotYetValid},
		{"wrong secret", func(t *testing.T) string { return issue(t, wrongSecret, fixedTime) }, ErrInvalidToken},
		{"malformed", func(t *testing.T) string { return "not.a.token" }, ErrInvalidToken},
		{"missing", func(t *testing.T) string { return "" }, ErrMissingToken},
		{"wrong type", func(t *testing.T) string {
			return sign(t, jwtDeviceClaims{
				TokenType: "refresh",
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    issuer,
					Subject:   "laptop",
					ExpiresAt: jwt.NewNumericDate(fixedTime.Add(time.Hour)),
				},
			})
		}, ErrWrongTokenType},
		{"wrong issuer", func(t *testing.T) string {
			return sign(t, jwtDeviceClaims{
				TokenType: tokenTypeDevice,
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "someone-else",
					Subject:   "laptop",
					ExpiresAt: jwt.NewNumericDate(fixedTime.Add(time.Hour)),
				},
			})
		}, ErrInvalidToken},
	}

	svc, err := newTokenService(secret, time.Hour, at(fixedTime))
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := svc.ValidateToken(context.Background(), tt.token(t))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "laptop", claims.DeviceID)
		})
	}
}

func TestNewTokenService(t *testing.T) {
	t.Parallel()

	_, err := NewTokenService(config.AuthConfig{TokenSecret: "short", TokenLifetime: time.Hour})
	assert.Error(t, err)

	_, err = NewTokenService(config.AuthConfig{TokenSecret: secret})
	assert.Error(t, err)

	svc, err := NewTokenService(config.AuthConfig{TokenSecret: secret, TokenLifetime: time.Hour})
	require.NoError(t, err)
	assert.NotNil(t, svc)
}
