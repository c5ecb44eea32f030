package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestStaticToken(t *testing.T) {
	t.Parallel()

	a := NewStaticToken("s3cret")
	if _, err := a.CheckAuthentication(context.Background(), "s3cret"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if _, err := a.CheckAuthentication(context.Background(), "s3cre"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if NewStaticToken("") != nil {
		t.Fatalf("empty token must disable the authenticator")
	}
}

func TestHS256(t *testing.T) {
	t.Parallel()

	secret := []byte("shared-key")
	a := NewHS256(secret, WithIssuer("ops"))
	ctx := context.Background()

	good := sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
		"sub": "alice", "iss": "ops", "exp": time.Now().Add(time.Minute).Unix(),
	})
	ui, err := a.CheckAuthentication(ctx, good)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if ui.UserID() != "alice" {
		t.Fatalf("unexpected user %q", ui.UserID())
	}
	var claims struct {
		Iss string `json:"iss"`
	}
	if err := ui.Claims(&claims); err != nil || claims.Iss != "ops" {
		t.Fatalf("claims: %v %+v", err, claims)
	}

	cases := map[string]string{
		"expired": sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
			"sub": "a", "iss": "ops", "exp": time.Now().Add(-time.Hour).Unix(),
		}),
		"no exp": sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"sub": "a", "iss": "ops"}),
		"wrong key": sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{
			"sub": "a", "iss": "ops", "exp": time.Now().Add(time.Minute).Unix(),
		}),
		"wrong alg": sign(t, jwt.SigningMethodHS512, secret, jwt.MapClaims{
			"sub": "a", "iss": "ops", "exp": time.Now().Add(time.Minute).Unix(),
		}),
		"wrong issuer": sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{
			"sub": "a", "iss": "elsewhere", "exp": time.Now().Add(time.Minute).Unix(),
		}),
	}
	for name, tok := range cases {
		if _, err := a.CheckAuthentication(ctx, tok); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
}

func TestAny(t *testing.T) {
	t.Parallel()

	secret := []byte("k")
	a := Any(NewStaticToken("tok"), NewHS256(secret), nil)
	ctx := context.Background()

	if _, err := a.CheckAuthentication(ctx, "tok"); err != nil {
		t.Fatalf("static token rejected: %v", err)
	}
	jwtTok := sign(t, jwt.SigningMethodHS256, secret, jwt.MapClaims{"exp": time.Now().Add(time.Minute).Unix()})
	if ui, err := a.CheckAuthentication(ctx, jwtTok); err != nil || ui.UserID() != "jwt" {
		t.Fatalf("jwt rejected: %v", err)
	}
	if _, err := a.CheckAuthentication(ctx, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected missing token to be unauthorized, got %v", err)
	}
	if _, err := a.CheckAuthentication(ctx, "nope"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := Any().CheckAuthentication(ctx, "tok"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("empty Any must reject, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"":             "",
		"Bearer":       "",
	}
	for header, want := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		if got := BearerToken(r); got != want {
			t.Fatalf("%q: got %q want %q", header, got, want)
		}
	}
}
