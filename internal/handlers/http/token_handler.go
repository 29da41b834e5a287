package http

import (
	"net/http"
	"time"

	"babaphone/internal/core/ports"
	"babaphone/internal/core/services"
	"babaphone/internal/infrastructure/middleware"
	apperrors "babaphone/pkg/errors"

	"github.com/gin-gonic/gin"
)

// TokenHandler renews device tokens for devices that are still registered.
type TokenHandler struct {
	tokens   services.TokenService
	registry ports.RegistryService
	ttl      time.Duration
}

func NewTokenHandler(tokens services.TokenService, registry ports.RegistryService, ttl time.Duration) *TokenHandler {
	return &TokenHandler{
		tokens:   tokens,
		registry: registry,
		ttl:      ttl,
	}
}

// SetupRoutes expects rg to sit behind DeviceTokenMiddleware.
func (h *TokenHandler) SetupRoutes(rg *gin.RouterGroup) {
	rg.POST("/token/refresh", h.Refresh)
}

func (h *TokenHandler) Refresh(c *gin.Context) {
	id, ok := middleware.AuthenticatedDevice(c)
	if !ok {
		c.Error(apperrors.NewUnauthorizedError("authorization header required"))
		return
	}

	device, err := h.registry.GetDevice(c.Request.Context(), id)
	if err != nil {
		abortWith(c, err)
		return
	}

	token, err := h.tokens.GenerateToken(device.ID, device.Type)
	if err != nil {
		c.Error(apperrors.NewInternalError("failed to generate token"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"token":      token,
		"expires_in": int(h.ttl / time.Second),
	})
}
