package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"discogs-proxy-go/internal/config"
)

// ClientAuth returns an Echo middleware enforcing the shared-secret check:
// callers must present the expected key in the x-api-key header. The check
// reads the current secret snapshot on every request so late-binding
// resolution takes effect without a restart. It can be disabled for local
// development via auth.disable_check.
func ClientAuth(cfg *config.Config, store *config.Store, logger *slog.Logger) echo.MiddlewareFunc {
	log := logger.With("component", "client_auth")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Auth.DisableCheck {
				return next(c)
			}

			secrets := store.Current()
			switch {
			case secrets.APIKey == "":
				// We intended to enforce a client key but none was configured.
				log.Error("client key check enabled but no key configured")
				return c.JSON(http.StatusServiceUnavailable, echo.Map{
					"error":  "server_misconfigured",
					"reason": "x_api_key_missing",
				})
			case !secrets.APIKeyResolved():
				return c.JSON(http.StatusServiceUnavailable, echo.Map{
					"error": "secrets_unresolved",
					"which": "X_API_KEY",
				})
			}

			provided := strings.TrimSpace(c.Request().Header.Get("x-api-key"))
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secrets.APIKey)) != 1 {
				return c.JSON(http.StatusUnauthorized, echo.Map{
					"error":  "unauthorized",
					"reason": "api_key_mismatch",
				})
			}

			return next(c)
		}
	}
}
