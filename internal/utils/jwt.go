package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/preetsinghmakkar/TeleConsult/internal/models"
)

// AccessClaims is the payload of an access token issued by the surrounding
// clinic application.
type AccessClaims struct {
	UserID uuid.UUID       `json:"user_id"`
	Role   models.UserRole `json:"role"`
	jwt.RegisteredClaims
}

// GenerateAccessToken signs an HS256 access token.
func GenerateAccessToken(user models.User, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		UserID: user.ID,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseAccessToken validates signature and expiry and returns the claims.
func ParseAccessToken(tokenString, secret string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid access token")
	}
	if claims.UserID == uuid.Nil {
		return nil, errors.New("access token has no user")
	}
	switch claims.Role {
	case models.UserRoleClinician, models.UserRoleAdmin, models.UserRolePatient:
	default:
		return nil, fmt.Errorf("access token has unknown role %q", claims.Role)
	}
	return claims, nil
}

func (c *AccessClaims) User() models.User {
	return models.User{ID: c.UserID, Role: c.Role}
}
