// Package session carries the authenticated staff session into view entry points.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSession is returned when a view is opened without a session
var ErrNoSession = errors.New("no authenticated session")

// Session identifies the signed-in staff member
type Session struct {
	StaffID     string
	DisplayName string
	HospitalID  string
	// Token is the raw bearer token, forwarded to the visit backend
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the session can be used for a request
func (s *Session) Valid() bool {
	if s == nil || s.StaffID == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || time.Now().Before(s.ExpiresAt)
}

// Claims are the JWT claims issued by the login service
type Claims struct {
	Name       string `json:"name,omitempty"`
	HospitalID string `json:"hospital_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed bearer tokens
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for the given shared secret
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify parses a token and returns the session it describes
func (v *Verifier) Verify(token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNoSession
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token claims")
	}

	s := &Session{
		StaffID:     claims.Subject,
		DisplayName: claims.Name,
		HospitalID:  claims.HospitalID,
		Token:       token,
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// Issue signs a session token. Used by tests and the CLI's dev login.
func (v *Verifier) Issue(staffID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staffID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type contextKey struct{}

// WithSession stores a session on a request context
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored by the auth middleware
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}
