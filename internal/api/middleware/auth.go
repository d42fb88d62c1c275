package middleware

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	apperrors "github.com/welldanyogia/evidence-ingest/internal/errors"
	"github.com/welldanyogia/evidence-ingest/internal/logger"
)

// APIKeyAuth validates the bearer token of every request against apiKey.
// An empty apiKey disables authentication.
func APIKeyAuth(apiKey string, audit *logger.AuditLogger, log *slog.Logger) echo.MiddlewareFunc {
	if apiKey == "" && log != nil {
		log.Warn("API_KEY not set - API is UNSECURED")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Path()

			// Skip auth for health endpoints
			if strings.HasPrefix(path, "/health") || strings.HasPrefix(path, "/ready") {
				return next(c)
			}
			if apiKey == "" {
				return next(c)
			}

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				audit.AuthFailure(c.RealIP(), path, "missing authorization header")
				return echo.NewHTTPError(401, map[string]string{
					"error": "missing authorization header",
					"code":  apperrors.CodeUnauthorized,
				})
			}

			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

			// Use constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				audit.AuthFailure(c.RealIP(), path, "invalid API key")
				return echo.NewHTTPError(401, map[string]string{
					"error": "invalid API key",
					"code":  apperrors.CodeUnauthorized,
				})
			}

			return next(c)
		}
	}
}
