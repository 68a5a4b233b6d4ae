package apiclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource yields the bearer credential for an outbound call. An empty
// token with a nil error means no credential is available.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource always returns the same token.
type StaticTokenSource string

func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// ServiceTokenSource mints short-lived HS256 tokens identifying this service
// and reuses each one until it is close to expiry.
type ServiceTokenSource struct {
	secret  []byte
	subject string
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	current string
	expires time.Time
}

func NewServiceTokenSource(secret, subject string, ttl time.Duration) *ServiceTokenSource {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ServiceTokenSource{secret: []byte(secret), subject: subject, ttl: ttl, now: time.Now}
}

func (s *ServiceTokenSource) Token(context.Context) (string, error) {
	if len(s.secret) == 0 {
		return "", nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.current != "" && now.Add(s.ttl/5).Before(s.expires) {
		return s.current, nil
	}

	expires := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   s.subject,
		Audience:  jwt.ClaimStrings{"payments-api"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign service token: %w", err)
	}
	s.current, s.expires = signed, expires
	return signed, nil
}
