package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welldanyogia/evidence-ingest/internal/logger"
)

func runAuth(t *testing.T, apiKey, path, header string, audit *logger.AuditLogger) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)

	handler := APIKeyAuth(apiKey, audit, nil)(func(c echo.Context) error {
		return c.String(http.StatusOK, "success")
	})
	return rec, handler(c)
}

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name     string
		apiKey   string
		path     string
		header   string
		wantCode int
	}{
		{"missing header", "test-api-key", "/api/jobs", "", http.StatusUnauthorized},
		{"invalid key", "test-api-key", "/api/jobs", "Bearer wrong-key", http.StatusUnauthorized},
		{"valid key", "test-api-key", "/api/jobs", "Bearer test-api-key", http.StatusOK},
		{"health skips auth", "test-api-key", "/health", "", http.StatusOK},
		{"ready skips auth", "test-api-key", "/ready", "", http.StatusOK},
		{"no key configured", "", "/api/jobs", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := runAuth(t, tt.apiKey, tt.path, tt.header, nil)

			if tt.wantCode == http.StatusOK {
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, rec.Code)
				return
			}
			httpErr, ok := err.(*echo.HTTPError)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, httpErr.Code)
		})
	}
}

func TestAPIKeyAuth_AuditsFailures(t *testing.T) {
	// Arrange
	var buf bytes.Buffer
	audit := logger.NewAuditLoggerWithHandler(slog.NewJSONHandler(&buf, nil))

	// Act
	_, err := runAuth(t, "test-api-key", "/api/jobs", "Bearer nope", audit)

	// Assert
	assert.Error(t, err)
	assert.Contains(t, buf.String(), "auth_failure")
	assert.Contains(t, buf.String(), "/api/jobs")
	assert.NotContains(t, buf.String(), "nope")
}
