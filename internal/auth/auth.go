package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	ModeJWT    = "jwt"
	ModeHeader = "header"

	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves the caller of an HTTP request.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// New returns the authenticator for mode.
func New(mode, secret, issuer, audience string) (Authenticator, error) {
	switch mode {
	case ModeJWT, "":
		if secret == "" {
			return nil, fmt.Errorf("auth mode %q requires a secret", ModeJWT)
		}
		return &JWTAuthenticator{Secret: []byte(secret), Issuer: issuer, Audience: audience}, nil
	case ModeHeader:
		return HeaderAuthenticator{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// JWTAuthenticator validates HS256 bearer tokens issued by the identity provider.
type JWTAuthenticator struct {
	Secret   []byte
	Issuer   string
	Audience string
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	tok, err := extractToken(r)
	if err != nil {
		return Identity{}, err
	}
	return a.Verify(tok)
}

// Verify parses tok and returns the identity carried in its claims.
func (a *JWTAuthenticator) Verify(tok string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.Issuer))
	}
	if a.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.Audience))
	}

	parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) {
		// Only HMAC; never let the token pick its own verification scheme.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.Secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("%w: invalid token claims", ErrUnauthenticated)
	}
	sub, _ := claims["sub"].(string)
	if strings.TrimSpace(sub) == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	role, _ := claims["role"].(string)

	return Identity{UserID: sub, Role: role}, nil
}

// Issue signs a token for id. It is used by msgctl and tests; production
// tokens come from the identity provider.
func (a *JWTAuthenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": id.UserID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if id.Role != "" {
		claims["role"] = id.Role
	}
	if a.Issuer != "" {
		claims["iss"] = a.Issuer
	}
	if a.Audience != "" {
		claims["aud"] = a.Audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

func extractToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("%w: invalid token format", ErrUnauthenticated)
	}

	return parts[1], nil
}

// HeaderAuthenticator trusts identity headers set by an upstream gateway that
// already verified the caller.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (Identity, error) {
	uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if uid == "" {
		return Identity{}, fmt.Errorf("%w: missing %s header", ErrUnauthenticated, HeaderUserID)
	}
	return Identity{UserID: uid, Role: strings.TrimSpace(r.Header.Get(HeaderUserRole))}, nil
}
