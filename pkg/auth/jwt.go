package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidJWT      = errors.New("invalid JWT token")
	ErrExpiredJWT      = errors.New("JWT token expired")
	ErrUnauthenticated = errors.New("authentication required")
)

// Token types carried in the "type" claim.
const (
	TokenTypeAdminSession = "admin_session"
	TokenTypePremium      = "premium_subscription"
)

// Claims represents JWT claims for admin sessions and premium viewers
type Claims struct {
	Type         string `json:"type"`
	SubscriberID string `json:"subscriber_id,omitempty"`
	jwt.RegisteredClaims
}

// GenerateAdminSessionJWT creates a short-lived admin session token
func GenerateAdminSessionJWT(subject string, secret []byte) (string, error) {
	claims := &Claims{
		Type: TokenTypeAdminSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// GeneratePremiumJWT creates a viewer token tied to an active
// subscription. Expiry tracks the subscription period end.
func GeneratePremiumJWT(subscriberID string, expiresAt time.Time, secret []byte) (string, error) {
	claims := &Claims{
		Type:         TokenTypePremium,
		SubscriberID: subscriberID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subscriberID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateJWT validates a JWT token and returns its claims
func ValidateJWT(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify the signing method to prevent algorithm confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredJWT
		}
		return nil, ErrInvalidJWT
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidJWT
}
