package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/broadcast-hub/app/dto"
	"github.com/amirphl/broadcast-hub/app/services"
	"github.com/amirphl/broadcast-hub/utils"
)

func newAuthApp(t *testing.T, tokens services.TokenService) *fiber.App {
	t.Helper()

	auth := NewAuthMiddleware(tokens, []string{"key-one", " ", "key-two"}, "")
	app := fiber.New()
	app.Use(Metrics())
	app.Get("/private", auth.Authenticate(), func(c fiber.Ctx) error {
		principal, _ := c.Locals(utils.PrincipalKey).(string)
		return c.SendString(principal)
	})
	return app
}

// errorEnvelope is the failure shape of dto.APIResponse with a typed error block
type errorEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   dto.ErrorDetail `json:"error"`
}

func readEnvelope(t *testing.T, resp *http.Response) errorEnvelope {
	t.Helper()
	var body errorEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestAuthenticate_APIKey(t *testing.T) {
	app := newAuthApp(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set(utils.DefaultAPIKeyHeader, "key-two")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set(utils.DefaultAPIKeyHeader, "wrong")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "INVALID_API_KEY", readEnvelope(t, resp).Error.Code)
}

func TestAuthenticate_MissingCredentials(t *testing.T) {
	app := newAuthApp(t, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/private", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "MISSING_CREDENTIALS", readEnvelope(t, resp).Error.Code)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Basic abc")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "INVALID_AUTHORIZATION_FORMAT", readEnvelope(t, resp).Error.Code)

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer abc")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "TOKEN_AUTH_DISABLED", readEnvelope(t, resp).Error.Code)
}

func TestAuthenticate_BearerToken(t *testing.T) {
	tokens, err := services.NewTokenService(time.Hour, "broadcast-hub", "broadcast-hub-api", false, "", "", "middleware-test-secret", nil, "")
	require.NoError(t, err)
	app := newAuthApp(t, tokens)

	token, _, err := tokens.IssueServiceToken("sender-bot")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	assert.Equal(t, "service:sender-bot", string(buf[:n]))

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token+"x")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "TOKEN_INVALID", readEnvelope(t, resp).Error.Code)
}

func TestAuthenticate_RevokedToken(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	tokens, err := services.NewTokenService(time.Hour, "broadcast-hub", "broadcast-hub-api", false, "", "", "middleware-test-secret", rc, "auth-test")
	require.NoError(t, err)
	app := newAuthApp(t, tokens)

	token, _, err := tokens.IssueServiceToken("retired-bot")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = tokens.RevokeToken(context.Background(), token)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "TOKEN_REVOKED", readEnvelope(t, resp).Error.Code)
}
