// Package identity resolves who is calling the metered endpoints.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/router-for-me/MealPlanProxy/internal/config"
)

// RoleServiceRole is the JWT role allowed on admin routes.
const RoleServiceRole = "service_role"

// anonymousPrefix marks usage keys derived from a network origin.
const anonymousPrefix = "anon:"

var (
	// ErrMissingCredential is returned when no bearer token was sent.
	ErrMissingCredential = errors.New("identity: missing bearer credential")
	// ErrInvalidCredential is returned when the bearer token does not verify.
	ErrInvalidCredential = errors.New("identity: invalid bearer credential")
	// ErrForbidden is returned when a valid token lacks the required role.
	ErrForbidden = errors.New("identity: insufficient role")
)

// Caller is the resolved identity of a request.
type Caller struct {
	ID        string
	Anonymous bool
	Email     string
}

// Claims are the JWT claims issued by the auth service.
type Claims struct {
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Resolver verifies HS256 bearer tokens and falls back to anonymous keys.
type Resolver struct {
	secret      []byte
	audience    string
	requireUser bool
}

// NewResolver constructs a Resolver from JWT settings.
func NewResolver(cfg config.JWTConfig, requireUser bool) *Resolver {
	return &Resolver{
		secret:      []byte(strings.TrimSpace(cfg.Secret)),
		audience:    strings.TrimSpace(cfg.Audience),
		requireUser: requireUser,
	}
}

// Resolve returns the caller for an Authorization header value. When the
// credential is missing or does not name a user, the caller is bucketed by
// clientIP unless user credentials are required.
func (r *Resolver) Resolve(authorization, clientIP string) (Caller, error) {
	token := BearerToken(authorization)
	errAuth := ErrMissingCredential
	if token != "" {
		claims, errParse := r.Parse(token)
		if errParse == nil && strings.TrimSpace(claims.Subject) != "" {
			return Caller{ID: strings.TrimSpace(claims.Subject), Email: claims.Email}, nil
		}
		errAuth = ErrInvalidCredential
		if errParse != nil {
			errAuth = fmt.Errorf("%w: %v", ErrInvalidCredential, errParse)
		}
	}
	if r != nil && r.requireUser {
		return Caller{}, errAuth
	}
	return Anonymous(clientIP), nil
}

// Parse verifies token and returns its claims.
func (r *Resolver) Parse(token string) (*Claims, error) {
	if r == nil || len(r.secret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if r.audience != "" {
		opts = append(opts, jwt.WithAudience(r.audience))
	}
	claims := &Claims{}
	parsed, errParse := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if errParse != nil {
		return nil, errParse
	}
	if !parsed.Valid {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}

// Admin verifies token and requires the service role.
func (r *Resolver) Admin(token string) (*Claims, error) {
	claims, errParse := r.Parse(token)
	if errParse != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, errParse)
	}
	if claims.Role != RoleServiceRole {
		return nil, ErrForbidden
	}
	return claims, nil
}

// Anonymous derives the shared bucket for callers without a verified user.
// The key is only as strong as the reported client address.
func Anonymous(clientIP string) Caller {
	return Caller{ID: AnonymousKey(clientIP), Anonymous: true}
}

// AnonymousKey hashes the network origin into a stable usage key.
func AnonymousKey(clientIP string) string {
	origin := strings.TrimSpace(clientIP)
	if origin == "" {
		origin = "unknown"
	}
	sum := sha256.Sum256([]byte(origin))
	return anonymousPrefix + hex.EncodeToString(sum[:])[:32]
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authorization string) string {
	authorization = strings.TrimSpace(authorization)
	if len(authorization) < len("Bearer ") || !strings.EqualFold(authorization[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(authorization[len("Bearer "):])
}
