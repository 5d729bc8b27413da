package billing

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AuthConfig holds the shared secret for bearer token verification.
type AuthConfig struct {
	SigningKey string `env:"JWT_SIGNING_KEY,required"`
}

var (
	ErrMissingSigningKey = errors.New("JWT signing key is required")
	errInvalidToken      = errors.New("invalid bearer token")
)

// Identity is the authenticated caller extracted from the token.
type Identity struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the caller holds the admin role.
func (i Identity) IsAdmin() bool { return i.Role == "admin" }

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{ name string }

var identityContextKey = &contextKey{name: "identity"}

// IdentityFromContext returns the authenticated caller, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates HMAC-signed bearer tokens and injects the
// caller identity into the request context.
type Authenticator struct {
	key []byte
}

// NewAuthenticator creates a token validator from the configured secret.
func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	if cfg.SigningKey == "" {
		return nil, ErrMissingSigningKey
	}
	return &Authenticator{key: []byte(cfg.SigningKey)}, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.authenticate(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects authenticated callers without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !identity.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) authenticate(r *http.Request) (Identity, error) {
	raw, err := bearerToken(r)
	if err != nil {
		return Identity{}, err
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Identity{}, errInvalidToken
	}
	if claims.Subject == "" {
		return Identity{}, errInvalidToken
	}
	return Identity{UserID: claims.Subject, Role: claims.Role}, nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errInvalidToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errInvalidToken
	}
	return parts[1], nil
}
