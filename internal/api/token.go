package api

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource yields the bearer token attached to API requests. Token
// refresh lives outside this subsystem; the source only has to hand
// back whatever token the host application currently holds.
type TokenSource interface {
	Token() (string, error)
}

// StaticTokenSource returns a fixed token.
type StaticTokenSource string

func (s StaticTokenSource) Token() (string, error) {
	return string(s), nil
}

// JWTTokenSource wraps another source and refuses to hand out tokens
// whose exp claim has already passed, so a request never goes out with
// a bearer token the server is guaranteed to reject.
type JWTTokenSource struct {
	Source TokenSource
	Leeway time.Duration
}

func (j *JWTTokenSource) Token() (string, error) {
	raw, err := j.Source.Token()
	if err != nil {
		return "", err
	}
	if raw == "" {
		return "", nil
	}

	// The signature is verified server-side; the client only inspects
	// the expiry claim.
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		// Opaque (non-JWT) tokens pass through untouched.
		return raw, nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return raw, nil
	}
	if time.Now().Add(j.Leeway).After(exp.Time) {
		return "", fmt.Errorf("access token expired at %s", exp.Time.Format(time.RFC3339))
	}
	return raw, nil
}
