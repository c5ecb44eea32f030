package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
)

// StaticToken accepts exactly one shared bearer token.
type StaticToken struct {
	token []byte
}

// NewStaticToken returns nil when token is empty, which Any skips.
func NewStaticToken(token string) Authenticator {
	if token == "" {
		return nil
	}
	return &StaticToken{token: []byte(token)}
}

// CheckAuthentication implements Authenticator.
func (s *StaticToken) CheckAuthentication(_ context.Context, tok string) (UserInfo, error) {
	if subtle.ConstantTimeCompare([]byte(tok), s.token) != 1 {
		return nil, fmt.Errorf("%w: token mismatch", ErrUnauthorized)
	}
	return &userInfo{sub: "bridge-token", claims: map[string]any{}}, nil
}

var _ Authenticator = (*StaticToken)(nil)
