package auth

import (
	"fmt"
	"time"

	"cloudshare-backend/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// tokenLifetime is how long an issued JWT stays valid
const tokenLifetime = 24 * time.Hour

// TokenService handles the JWT logic
type TokenService struct {
	jwtSecret []byte
	now       func() time.Time
}

// NewTokenService creates a new token service
func NewTokenService(secret string) (*TokenService, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret cannot be empty")
	}
	return &TokenService{
		jwtSecret: []byte(secret),
		now:       time.Now,
	}, nil
}

// NewToken creates a new JWT for a user
func (s *TokenService) NewToken(userID, email string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":   userID, // subject: the user ID
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(tokenLifetime).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken checks a token string and resolves the caller it was issued to
func (s *TokenService) ValidateToken(tokenString string) (*models.Caller, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Check the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return callerFromClaims(token)
}

func callerFromClaims(token *jwt.Token) (*models.Caller, error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("could not read token claims")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	email, _ := claims["email"].(string)
	return &models.Caller{ID: sub, Email: email}, nil
}
