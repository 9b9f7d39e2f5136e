// Package auth verifies bearer tokens presented on the authenticated
// WebSocket handshake and the REST notify endpoint. Token issuance belongs to
// the identity service; this package only checks signatures and expiry.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMissing = errors.New("bearer token is missing")
	ErrTokenInvalid = errors.New("bearer token is invalid")
	ErrTokenExpired = errors.New("bearer token has expired")
)

// Claims is the verified identity attached to a request.
type Claims struct {
	Subject     string
	DisplayName string
	Role        string
	Areas       []string
}

// Verifier checks a bearer token and returns the identity it asserts.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Claims, error)
}

type tokenClaims struct {
	jwt.RegisteredClaims

	DisplayName string   `json:"name"`
	Role        string   `json:"role"`
	Areas       []string `json:"areas"`
}

type jwtVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier verifies HMAC-SHA256 signed tokens against the shared
// signing secret. When issuer is non-empty the iss claim must match.
func NewJWTVerifier(secret, issuer string) Verifier {
	return &jwtVerifier{
		secret: []byte(secret),
		issuer: issuer,
	}
}

func (v *jwtVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenMissing
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}

	return &Claims{
		Subject:     claims.Subject,
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
		Areas:       claims.Areas,
	}, nil
}
