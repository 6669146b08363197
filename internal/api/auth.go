package api

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthService issues and validates the JWT bearer tokens guarding admin
// routes.
type AuthService struct {
	jwtSecret []byte
	tokenTTL  time.Duration
}

// NewAuthService creates an auth service with the given HMAC secret.
func NewAuthService(jwtSecret []byte, tokenTTL time.Duration) *AuthService {
	if tokenTTL == 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AuthService{jwtSecret: jwtSecret, tokenTTL: tokenTTL}
}

// Claims are the JWT claims carried by coordinator tokens.
type Claims struct {
	Subject string `json:"sub_name"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for a subject with the given role.
func (as *AuthService) IssueToken(subject, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Subject: subject,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(as.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(as.jwtSecret)
}

// ValidateToken parses and verifies a token, returning its claims.
func (as *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return as.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
