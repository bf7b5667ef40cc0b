package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/deepsearch/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("unit-test-secret")

func protected(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.GET("/whoami", func(c echo.Context) error {
		sub, _ := SubjectFromContext(c.Request().Context())
		return c.String(http.StatusOK, sub)
	}, mw...)
	return e
}

func do(e *echo.Echo, header, cookie string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "auth", Value: cookie})
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestEchoAuthMiddleware(t *testing.T) {
	e := protected(EchoAuthMiddleware(testSecret))
	tok, err := SignJWT("alice", testSecret, time.Hour, ScopeResearch)
	require.NoError(t, err)

	rec := do(e, "Bearer "+tok, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	rec = do(e, "", tok)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, do(e, "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, "Bearer garbage", "").Code)

	other, err := SignJWT("mallory", []byte("other-secret"), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(e, "Bearer "+other, "").Code)

	expired, err := SignJWT("alice", testSecret, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(e, "Bearer "+expired, "").Code)
}

func TestEchoAuthMiddlewareRejectsOtherAlgorithms(t *testing.T) {
	e := protected(EchoAuthMiddleware(testSecret))
	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(time.Hour).Unix()})
	signed, err := tok.SignedString(testSecret)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(e, "Bearer "+signed, "").Code)
}

func TestRequireScopes(t *testing.T) {
	e := protected(EchoAuthMiddleware(testSecret), RequireScopes(ScopeResearch))

	withScope, _ := SignJWT("alice", testSecret, time.Hour, ScopeResearch)
	assert.Equal(t, http.StatusOK, do(e, "Bearer "+withScope, "").Code)

	without, _ := SignJWT("bob", testSecret, time.Hour, "read")
	assert.Equal(t, http.StatusForbidden, do(e, "Bearer "+without, "").Code)

	open := protected(RequireScopes(ScopeResearch))
	assert.Equal(t, http.StatusOK, do(open, "", "").Code)
}

func TestNormaliseScopes(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, normaliseScopes("a  b"))
	assert.Equal(t, []string{"a"}, normaliseScopes([]interface{}{"a", 3, " "}))
	assert.Nil(t, normaliseScopes(42))
}

func TestLoadJWTSecret(t *testing.T) {
	_, err := LoadJWTSecret(&config.Config{})
	assert.ErrorIs(t, err, ErrNoJWTSecret)

	cfg := &config.Config{}
	cfg.Server.JWTSecret = " s3cret "
	secret, err := LoadJWTSecret(cfg)
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), secret)

	_, err = SignJWT("x", nil, time.Hour)
	assert.ErrorIs(t, err, ErrNoJWTSecret)
}

func TestSubjectFromContextEmpty(t *testing.T) {
	_, ok := SubjectFromContext(context.Background())
	assert.False(t, ok)
}
