package middleware

import (
	"crypto/subtle"
	"strings"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/services"
	"babaphone/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ContextDeviceID is the gin context key holding the authenticated device.
const ContextDeviceID = "device_id"

// APIKeyMiddleware requires X-API-Key (or ?api_key=) to equal key. An empty
// key disables the check.
func APIKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" || c.Request.Method == "OPTIONS" {
			c.Next()
			return
		}

		got := c.GetHeader("X-API-Key")
		if got == "" {
			got = c.Query("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.Error(errors.NewUnauthorizedError("Invalid or missing API key"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// DeviceTokenMiddleware validates the device token issued at registration
// and stores its device id under ContextDeviceID.
func DeviceTokenMiddleware(tokens services.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Error(errors.NewUnauthorizedError("authorization header required"))
			c.Abort()
			return
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			c.Error(errors.NewUnauthorizedError(err.Error()))
			c.Abort()
			return
		}

		c.Set(ContextDeviceID, claims.DeviceID)
		c.Next()
	}
}

// AuthenticatedDevice returns the device id set by DeviceTokenMiddleware.
func AuthenticatedDevice(c *gin.Context) (domain.DeviceID, bool) {
	v, ok := c.Get(ContextDeviceID)
	if !ok {
		return "", false
	}
	id, ok := v.(domain.DeviceID)
	return id, ok
}
