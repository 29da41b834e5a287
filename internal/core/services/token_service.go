package services

import (
	"errors"
	"time"

	"babaphone/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// TokenService issues and checks the device tokens handed out at
// registration.
type TokenService interface {
	GenerateToken(id domain.DeviceID, deviceType domain.DeviceType) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
}

type Claims struct {
	DeviceID   domain.DeviceID   `json:"device_id"`
	DeviceType domain.DeviceType `json:"device_type"`
	jwt.RegisteredClaims
}

type tokenService struct {
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

func NewTokenService(jwtSecret string, ttl time.Duration) TokenService {
	return &tokenService{
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		now:       time.Now,
	}
}

func (s *tokenService) GenerateToken(id domain.DeviceID, deviceType domain.DeviceType) (string, error) {
	now := s.now()
	claims := &Claims{
		DeviceID:   id,
		DeviceType: deviceType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *tokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.DeviceID != "" {
		return claims, nil
	}

	return nil, ErrInvalidToken
}
