package http

import (
	"errors"
	"encoding/json"
	"net/http"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"
	"babaphone/internal/infrastructure/middleware"
	apperrors "babaphone/pkg/errors"

	"github.com/gin-gonic/gin"
)

type SignalHandler struct {
	signaling ports.SignalingService
}

func NewSignalHandler(signaling ports.SignalingService) *SignalHandler {
	return &SignalHandler{signaling: signaling}
}

func (h *SignalHandler) SetupRoutes(rg *gin.RouterGroup) {
	rg.POST("/signal", h.Send)
	rg.GET("/signal", h.Poll)
}

type signalRequest struct {
	FromDeviceID *string         `json:"from_device_id"`
	ToDeviceID   *string         `json:"to_device_id"`
	SignalType   *string         `json:"signal_type"`
	Data         json.RawMessage `json:"data"`
}

// checkCaller rejects requests whose token belongs to another device. With
// tokens disabled nothing is set and every caller passes.
func checkCaller(c *gin.Context, id string) bool {
	if authed, ok := middleware.AuthenticatedDevice(c); ok && string(authed) != id {
		abortWith(c, domain.ErrDeviceIDMismatch)
		return false
	}
	return true
}

func (h *SignalHandler) Send(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidJSON(c)
		return
	}
	switch {
	case req.FromDeviceID == nil:
		missingField(c, "from_device_id")
		return
	case req.ToDeviceID == nil:
		missingField(c, "to_device_id")
		return
	case req.SignalType == nil:
		missingField(c, "signal_type")
		return
	}
	if !checkCaller(c, *req.FromDeviceID) {
		return
	}

	signal, err := h.signaling.Send(c.Request.Context(),
		domain.DeviceID(*req.FromDeviceID),
		domain.DeviceID(*req.ToDeviceID),
		domain.SignalType(*req.SignalType),
		req.Data,
	)
	if err != nil {
		if errors.Is(err, domain.ErrDeviceNotFound) {
			c.Error(apperrors.NewAppError(apperrors.ErrCodeNotFound, "One or both devices not found", http.StatusNotFound))
			return
		}
		abortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "success",
		"message":   "Signal queued for delivery",
		"signal_id": signal.ID,
	})
}

func (h *SignalHandler) Poll(c *gin.Context) {
	id := c.Query("device_id")
	if id == "" {
		c.Error(apperrors.NewInvalidInputError("Missing device_id parameter"))
		return
	}
	if !checkCaller(c, id) {
		return
	}

	signals, err := h.signaling.Poll(c.Request.Context(), domain.DeviceID(id))
	if err != nil {
		abortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"count":   len(signals),
		"signals": signals,
	})
}
