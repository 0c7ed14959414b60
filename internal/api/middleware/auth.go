package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pipectl/pipectl/internal/auth"
)

const (
	apiKeyHeader  = "X-API-Key"
	authHeaderKey = "Authorization"
	contextUser   = "user"
)

// AuthConfig wires the two supported auth modes. JWT is optional: when
// Shared.Authenticate("") would already pass (no key configured) and
// JWT is nil, WriteAuth is a no-op, so an operator who leaves apiKey
// unset disables write auth entirely.
type AuthConfig struct {
	Shared *auth.SharedKeyAuthenticator
	JWT    *auth.JWTService
}

// WriteAuth gates write endpoints behind the shared API key (preferred)
// or, if present, a JWT bearer token.
func WriteAuth(cfg AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(apiKeyHeader); key != "" {
			if cfg.Shared.Authenticate(key) {
				c.Next()
				return
			}
			unauthorized(c)
			return
		}

		if cfg.JWT != nil {
			if claims := tryJWT(c, cfg.JWT); claims != nil {
				c.Set(contextUser, claims)
				c.Next()
				return
			}
		}

		// No key supplied at all: fall back to the shared authenticator's
		// own "no key configured" policy so deployments that leave apiKey
		// unset stay open.
		if cfg.Shared.Authenticate("") {
			c.Next()
			return
		}
		unauthorized(c)
	}
}

func tryJWT(c *gin.Context, svc *auth.JWTService) *auth.Claims {
	header := c.GetHeader(authHeaderKey)
	if header == "" {
		return nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return nil
	}
	claims, err := svc.ValidateToken(parts[1])
	if err != nil {
		return nil
	}
	return claims
}

func unauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"message": "authentication required",
			"code":    "UNAUTHORIZED",
		},
	})
}
