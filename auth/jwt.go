package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HS256Option configures the HS256 authenticator.
type HS256Option func(*hs256)

// WithLeeway sets clock skew tolerance for time-based claims.
func WithLeeway(d time.Duration) HS256Option {
	return func(h *hs256) { h.leeway = d }
}

// WithIssuer requires the "iss" claim to equal iss.
func WithIssuer(iss string) HS256Option {
	return func(h *hs256) { h.issuer = iss }
}

type hs256 struct {
	secret []byte
	leeway time.Duration
	issuer string
}

// NewHS256 returns an Authenticator for JWTs signed with secret using HS256.
// Tokens must carry an expiry. It returns nil when secret is empty.
func NewHS256(secret []byte, opts ...HS256Option) Authenticator {
	if len(secret) == 0 {
		return nil
	}
	h := &hs256{secret: secret, leeway: 30 * time.Second}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CheckAuthentication implements Authenticator.
func (h *hs256) CheckAuthentication(_ context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, errors.New("empty token")
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(h.leeway),
	}
	if h.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(h.issuer))
	}

	parsed, err := jwt.NewParser(parserOpts...).Parse(tok, func(*jwt.Token) (any, error) {
		return h.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		sub = "jwt"
	}
	return &userInfo{sub: sub, claims: claims}, nil
}

var _ Authenticator = (*hs256)(nil)
