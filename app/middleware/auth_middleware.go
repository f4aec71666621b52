// Package middleware contains HTTP middleware functions for request processing
package middleware

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"

	"github.com/amirphl/broadcast-hub/app/dto"
	"github.com/amirphl/broadcast-hub/app/services"
	"github.com/amirphl/broadcast-hub/utils"
)

// AuthMiddleware authenticates callers with a static API key or a service JWT
type AuthMiddleware struct {
	tokenService services.TokenService
	apiKeys      [][]byte
	apiKeyHeader string
}

// NewAuthMiddleware creates a new authentication middleware. tokenService may
// be nil when only API keys are accepted.
func NewAuthMiddleware(tokenService services.TokenService, apiKeys []string, apiKeyHeader string) *AuthMiddleware {
	keys := make([][]byte, 0, len(apiKeys))
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, []byte(k))
		}
	}
	if apiKeyHeader == "" {
		apiKeyHeader = utils.DefaultAPIKeyHeader
	}

	return &AuthMiddleware{
		tokenService: tokenService,
		apiKeys:      keys,
		apiKeyHeader: apiKeyHeader,
	}
}

func unauthorized(c fiber.Ctx, message, code string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: code,
		},
	})
}

// Authenticate accepts either a configured API key or a Bearer service token.
// The authenticated principal is stored under utils.PrincipalKey.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c fiber.Ctx) error {
		if key := c.Get(m.apiKeyHeader); key != "" {
			idx, ok := m.matchAPIKey(key)
			if !ok {
				return unauthorized(c, "Invalid API key", "INVALID_API_KEY")
			}
			c.Locals(utils.PrincipalKey, fmt.Sprintf("api_key:%d", idx))
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return unauthorized(c, "API key or bearer token is required", "MISSING_CREDENTIALS")
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return unauthorized(c, "Invalid authorization header format. Expected 'Bearer <token>'", "INVALID_AUTHORIZATION_FORMAT")
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			return unauthorized(c, "Access token is required", "MISSING_ACCESS_TOKEN")
		}

		if m.tokenService == nil {
			return unauthorized(c, "Bearer tokens are not accepted", "TOKEN_AUTH_DISABLED")
		}

		claims, err := m.tokenService.ValidateServiceToken(c.Context(), token)
		if err != nil {
			var code, message string
			switch {
			case errors.Is(err, services.ErrTokenExpired):
				code, message = "TOKEN_EXPIRED", "Access token has expired"
			case errors.Is(err, services.ErrTokenInvalid):
				code, message = "TOKEN_INVALID", "Invalid access token"
			case errors.Is(err, services.ErrTokenRevoked):
				code, message = "TOKEN_REVOKED", "Access token has been revoked"
			default:
				log.Error().Err(err).Str("path", c.Path()).Msg("Token validation failed")
				code, message = "TOKEN_VALIDATION_FAILED", "Token validation failed"
			}
			return unauthorized(c, message, code)
		}

		c.Locals(utils.PrincipalKey, "service:"+claims.Subject)
		c.Locals("token_id", claims.ID)

		return c.Next()
	}
}

// matchAPIKey compares against every key so timing does not leak which one matched
func (m *AuthMiddleware) matchAPIKey(key string) (int, bool) {
	matched := -1
	for i, k := range m.apiKeys {
		if subtle.ConstantTimeCompare(k, []byte(key)) == 1 && matched < 0 {
			matched = i
		}
	}
	return matched, matched >= 0
}
