package runtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/deepsearch/config"
)

// ScopeResearch allows starting runs and resetting sessions.
const ScopeResearch = "research"

// ErrNoJWTSecret means API authentication is disabled.
var ErrNoJWTSecret = errors.New("jwt secret not configured (server.jwt_secret)")

// LoadJWTSecret resolves the shared JWT secret from config.
func LoadJWTSecret(cfg *config.Config) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if s := strings.TrimSpace(cfg.Server.JWTSecret); s != "" {
		return []byte(s), nil
	}
	return nil, ErrNoJWTSecret
}

// SignJWT issues a signed token with the provided subject and TTL.
func SignJWT(subject string, secret []byte, ttl time.Duration, scopes ...string) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoJWTSecret
	}
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	if len(scopes) > 0 {
		claims["scopes"] = scopes
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// EchoAuthMiddleware validates HS256 tokens from the Authorization header or the auth cookie.
func EchoAuthMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok := extractToken(c)
			if tok == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
			}
			parsed, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !parsed.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			claims, ok := parsed.Claims.(jwt.MapClaims)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			sub, ok := claims["sub"].(string)
			if !ok || sub == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
			}
			reqCtx := context.WithValue(c.Request().Context(), subjectKey{}, sub)
			if scopes := extractScopes(claims); len(scopes) > 0 {
				reqCtx = context.WithValue(reqCtx, scopeKey{}, scopes)
				c.Set("scopes", scopes)
			}
			c.Set("user_id", sub)
			c.SetRequest(c.Request().WithContext(reqCtx))
			return next(c)
		}
	}
}

func extractToken(c echo.Context) string {
	if h := c.Request().Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if ck, err := c.Cookie("auth"); err == nil {
		return ck.Value
	}
	return ""
}

type subjectKey struct{}

// SubjectFromContext returns the JWT subject if stored in context via middleware.
func SubjectFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	s, ok := ctx.Value(subjectKey{}).(string)
	return s, ok
}

type scopeKey struct{}

// ScopesFromContext returns scopes associated with the request context.
func ScopesFromContext(ctx context.Context) ([]string, bool) {
	if ctx == nil {
		return nil, false
	}
	scopes, ok := ctx.Value(scopeKey{}).([]string)
	return scopes, ok
}

// RequireScopes ensures the caller token includes all required scopes.
// Requests that passed through no auth middleware carry no subject and are let through.
func RequireScopes(required ...string) echo.MiddlewareFunc {
	reqSet := make([]string, 0, len(required))
	for _, scope := range required {
		if scope = strings.TrimSpace(scope); scope != "" {
			reqSet = append(reqSet, scope)
		}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(reqSet) == 0 {
				return next(c)
			}
			if _, authed := SubjectFromContext(c.Request().Context()); !authed {
				return next(c)
			}
			existing, _ := ScopesFromContext(c.Request().Context())
			for _, scope := range reqSet {
				if !containsScope(existing, scope) {
					return echo.NewHTTPError(http.StatusForbidden, "missing scope: "+scope)
				}
			}
			return next(c)
		}
	}
}

func extractScopes(claims jwt.MapClaims) []string {
	if raw, ok := claims["scopes"]; ok {
		return normaliseScopes(raw)
	}
	if raw, ok := claims["scope"]; ok {
		return normaliseScopes(raw)
	}
	return nil
}

func normaliseScopes(raw interface{}) []string {
	var parts []string
	switch v := raw.(type) {
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
	case []string:
		parts = v
	case string:
		parts = strings.Fields(v)
	default:
		return nil
	}
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsScope(scopes []string, target string) bool {
	for _, scope := range scopes {
		if scope == target {
			return true
		}
	}
	return false
}
