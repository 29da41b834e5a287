package http

import (
	"errors"
	"net"
	"net/http"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"
	"babaphone/internal/core/services"
	apperrors "babaphone/pkg/errors"
	"babaphone/pkg/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type DeviceHandler struct {
	registry ports.RegistryService
	tokens   services.TokenService
	logger   *zap.SugaredLogger
}

// NewDeviceHandler builds the registration and discovery endpoints. tokens
// may be nil, in which case registration does not return a device token.
func NewDeviceHandler(registry ports.RegistryService, tokens services.TokenService, logger *zap.SugaredLogger) *DeviceHandler {
	return &DeviceHandler{
		registry: registry,
		tokens:   tokens,
		logger:   logger,
	}
}

func (h *DeviceHandler) SetupRoutes(rg *gin.RouterGroup) {
	rg.POST("/register", h.Register)
	rg.PUT("/register", h.Heartbeat)
	rg.DELETE("/register", h.Unregister)
	rg.GET("/discover", h.Discover)
}

type registerRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceType string `json:"device_type"`
	DeviceName string `json:"device_name"`
}

type deviceIDRequest struct {
	DeviceID string `json:"device_id"`
}

// requestIP is the first X-Forwarded-For hop when present, else the peer
// address of the connection.
func requestIP(c *gin.Context) string {
	if ip := utils.FirstForwardedFor(c.GetHeader("X-Forwarded-For")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return host
}

func (h *DeviceHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}
	for _, f := range []struct{ name, value string }{
		{"device_id", req.DeviceID},
		{"device_type", req.DeviceType},
		{"device_name", req.DeviceName},
	} {
		if f.value == "" {
			missingField(c, f.name)
			return
		}
	}

	device, err := h.registry.Register(c.Request.Context(), ports.RegisterRequest{
		DeviceID:   domain.DeviceID(req.DeviceID),
		DeviceType: domain.DeviceType(req.DeviceType),
		DeviceName: req.DeviceName,
		IPAddress:  requestIP(c),
	})
	if err != nil {
		abortWith(c, err)
		return
	}

	resp := gin.H{
		"status":  "success",
		"message": "Device registered successfully",
		"device":  device,
	}
	if h.tokens != nil {
		token, err := h.tokens.GenerateToken(device.ID, device.Type)
		if err != nil {
			abortWith(c, err)
			return
		}
		resp["token"] = token
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *DeviceHandler) Heartbeat(c *gin.Context) {
	var req deviceIDRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DeviceID == "" {
		c.Error(apperrors.NewInvalidInputError("Missing device_id"))
		return
	}

	device, err := h.registry.Heartbeat(c.Request.Context(), domain.DeviceID(req.DeviceID))
	if err != nil {
		abortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Device updated",
		"device":  device,
	})
}

func (h *DeviceHandler) Unregister(c *gin.Context) {
	var req deviceIDRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DeviceID == "" {
		c.Error(apperrors.NewInvalidInputError("Missing device_id"))
		return
	}

	if err := h.registry.Unregister(c.Request.Context(), domain.DeviceID(req.DeviceID)); err != nil {
		if errors.Is(err, domain.ErrDeviceNotFound) {
			c.Error(apperrors.NewAppError(apperrors.ErrCodeNotFound, "Device not found or already removed", http.StatusNotFound))
			return
		}
		abortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Device unregistered successfully",
	})
}

func (h *DeviceHandler) Discover(c *gin.Context) {
	deviceType := domain.DeviceType(c.Query("device_type"))

	devices, err := h.registry.Discover(c.Request.Context(), deviceType)
	if err != nil {
		abortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"count":   len(devices),
		"devices": devices,
	})
}
