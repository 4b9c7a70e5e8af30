// Package auth resolves the caller's user id from a bearer JWT.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey struct{}

var ErrMissingToken = errors.New("missing bearer token")

type Claims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// ResolvedUserID returns the user id carried by the claims, preferring userId over sub.
func (c *Claims) ResolvedUserID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

type Authenticator struct {
	secret []byte
	logger *slog.Logger
}

func NewAuthenticator(secret []byte, logger *slog.Logger) *Authenticator {
	return &Authenticator{secret: secret, logger: logger}
}

// ParseToken validates an HS256 token and returns the user id it names.
func (a *Authenticator) ParseToken(raw string) (string, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims.ResolvedUserID() == "" {
		return "", errors.New("token has no subject")
	}
	return claims.ResolvedUserID(), nil
}

// Require rejects requests without a valid bearer token and stores the user id in the request context.
func (a *Authenticator) Require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerToken(r)
		if err != nil {
			a.unauthorized(w, err)
			return
		}

		userID, err := a.ParseToken(raw)
		if err != nil {
			a.unauthorized(w, err)
			return
		}

		next(w, r.WithContext(WithUserID(r.Context(), userID)))
	}
}

func (a *Authenticator) unauthorized(w http.ResponseWriter, err error) {
	a.logger.Info("request rejected", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserID returns the authenticated user id, or "" outside an authenticated request.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}
