package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnauthorized indicates authentication failed or no valid credentials were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// UserInfo represents an authenticated principal.
// Implementations should be lightweight and safe for concurrent use.
type UserInfo interface {
	// UserID returns the unique identifier for the user.
	UserID() string
	// Claims unmarshalls the user's claims into the provided struct reference.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns associated user info.
// It should return ErrUnauthorized for invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

// Challenge is the WWW-Authenticate value sent with 401 responses.
const Challenge = `Bearer realm="mcp-bridge"`

// BearerToken extracts the token from an "Authorization: Bearer <tok>"
// header. It returns "" when the header is absent or uses another scheme.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}

type userInfo struct {
	sub    string
	claims map[string]any
}

func (u *userInfo) UserID() string { return u.sub }
func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

type anyOf []Authenticator

// Any returns an Authenticator accepting a token if any of auths accepts it.
// Nil entries are skipped. With no usable entries every token is rejected.
func Any(auths ...Authenticator) Authenticator {
	var out anyOf
	for _, a := range auths {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

func (a anyOf) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	var errs []error
	for _, authn := range a {
		ui, err := authn.CheckAuthentication(ctx, tok)
		if err == nil {
			return ui, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no authenticator configured", ErrUnauthorized)
	}
	return nil, errors.Join(errs...)
}
