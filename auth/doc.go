// Package auth checks the optional bearer credentials presented to the
// bridge's HTTP surface.
//
// An Authenticator validates a bearer token string and returns a UserInfo (or
// an error wrapping ErrUnauthorized). The HTTP layer is responsible for
// extracting the token from the request and mapping failures into a 401
// challenge.
//
// Two authenticators are provided: StaticToken compares against a shared
// secret, and HS256 verifies JWTs signed with a shared key. Any combines
// several so that either credential is accepted.
//
//	authn := auth.Any(auth.NewStaticToken(token), auth.NewHS256([]byte(secret)))
//	ui, err := authn.CheckAuthentication(r.Context(), bearer)
//	if errors.Is(err, auth.ErrUnauthorized) { /* 401 */ }
package auth
