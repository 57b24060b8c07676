// Package session mints and verifies the short-lived bearer tokens handed to
// the administrator after a successful login. Tokens are stateless: the only
// way a token stops working is its own expiry.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	RoleAdmin  = "admin"
	DefaultTTL = 15 * time.Minute
)

var (
	ErrMissingSecret  = errors.New("session signing secret is not configured")
	ErrInvalidSession = errors.New("invalid or expired session")
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Token struct {
	Value     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService refuses an empty secret so tokens are never signed with a guessable key.
func NewService(secret string, ttl time.Duration) (*Service, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Service{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) TTL() time.Duration {
	return s.ttl
}

func (s *Service) Issue() (Token, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Token{}, fmt.Errorf("generate token id: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign session token: %w", err)
	}

	return Token{Value: signed, ExpiresAt: expiresAt.Truncate(time.Second)}, nil
}

// Verify collapses every parse, signature and expiry failure into ErrInvalidSession.
func (s *Service) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidSession
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidSession
	}
	if claims.Role != RoleAdmin {
		return nil, ErrInvalidSession
	}

	return claims, nil
}

// Rotate mints a fresh window for an already verified session. The previous
// token is left untouched and remains valid until it expires.
func (s *Service) Rotate(claims *Claims) (Token, error) {
	if claims == nil || claims.Role != RoleAdmin {
		return Token{}, ErrInvalidSession
	}
	return s.Issue()
}
