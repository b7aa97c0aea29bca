// Package auth validates the bearer tokens presented by callers. Accounts and login are owned
// by the identity service; this service only verifies the HS256 tokens it signs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in the token's role claim.
const (
	RoleUser     = "user"
	RoleAdmin    = "admin"
	RoleService  = "service"
	RoleExecutor = "executor"
)

var ErrInvalidToken = errors.New("invalid token")

// Principal is the authenticated caller.
type Principal struct {
	ID   uuid.UUID
	Role string
}

// Actor is the audit identity of the principal.
func (p Principal) Actor() string {
	return p.Role + ":" + p.ID.String()
}

type Service interface {
	ValidateToken(ctx context.Context, token string) (Principal, error)
}

type service struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewService(secret, issuer string) *service {
	return &service{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func validRole(role string) bool {
	switch role {
	case RoleUser, RoleAdmin, RoleService, RoleExecutor:
		return true
	}
	return false
}

// Issue signs a token for subject. Used by operator tooling and tests.
func (s *service) Issue(subject uuid.UUID, role string, ttl time.Duration) (string, error) {
	if !validRole(role) {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return Principal{}, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	if !validRole(c.Role) {
		return Principal{}, fmt.Errorf("%w: role %q", ErrInvalidToken, c.Role)
	}
	return Principal{ID: id, Role: c.Role}, nil
}
