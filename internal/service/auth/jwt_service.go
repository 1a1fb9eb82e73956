// Package auth issues and validates the bearer tokens capture devices
// present to the ingestion and control endpoints.
package auth

import (
	"context"
	"time"
)

// TokenService defines operations for managing device tokens.
type TokenService interface {
	// GenerateToken creates a signed token identifying the device.
	GenerateToken(ctx context.Context, deviceID string) (string, error)

	// ValidateToken validates the provided token string and extracts the claims.
	// Returns ErrExpiredToken, ErrTokenNotYetValid, ErrWrongTokenType or
	// ErrInvalidToken when validation fails.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims is the validated content of a device token.
type Claims struct {
	// DeviceID is the capture device the token was issued for.
	DeviceID string `json:"device_id"`

	// TokenType guards against tokens minted for another purpose.
	TokenType string `json:"type,omitempty"`

	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
