package http

import (
	"errors"
	"net/http"

	"babaphone/internal/core/domain"
	"babaphone/internal/core/ports"
	apperrors "babaphone/pkg/errors"

	"github.com/gin-gonic/gin"
)

type RelayHandler struct {
	relay ports.RelayService
}

func NewRelayHandler(relay ports.RelayService) *RelayHandler {
	return &RelayHandler{relay: relay}
}

func (h *RelayHandler) SetupRoutes(rg *gin.RouterGroup) {
	rg.POST("/relay", h.Send)
	rg.GET("/relay", h.Poll)
}

type relayRequest struct {
	FromDeviceID *string `json:"from_device_id"`
	ToDeviceID   *string `json:"to_device_id"`
	AudioData    *string `json:"audio_data"`
}

func (h *RelayHandler) Send(c *gin.Context) {
	var req relayRequest
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
	case req.AudioData == nil:
		missingField(c, "audio_data")
		return
	}
	if !checkCaller(c, *req.FromDeviceID) {
		return
	}

	packet, err := h.relay.Send(c.Request.Context(),
		domain.DeviceID(*req.FromDeviceID),
		domain.DeviceID(*req.ToDeviceID),
		*req.AudioData,
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
		"message":   "Audio data relayed",
		"packet_id": packet.ID,
	})
}

func (h *RelayHandler) Poll(c *gin.Context) {
	id := c.Query("device_id")
	if id == "" {
		c.Error(apperrors.NewInvalidInputError("Missing device_id parameter"))
		return
	}
	if !checkCaller(c, id) {
		return
	}

	packets, err := h.relay.Poll(c.Request.Context(), domain.DeviceID(id))
	if err != nil {
		abortWith(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"count":   len(packets),
		"packets": packets,
	})
}
