package http

import (
	"errors"
	"strings"

	"babaphone/internal/core/domain"
	apperrors "babaphone/pkg/errors"

	"github.com/gin-gonic/gin"
)

// toAppError maps service errors onto the HTTP error the client sees.
func toAppError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrDeviceNotFound):
		return apperrors.NewNotFoundError("Device")
	case errors.Is(err, domain.ErrInvalidDeviceType),
		errors.Is(err, domain.ErrEmptyAudioPayload):
		return apperrors.NewInvalidInputError(err.Error())
	case errors.Is(err, domain.ErrInvalidSignalType):
		return apperrors.NewInvalidInputError("signal_type must be one of connect, disconnect, offer, answer, candidate")
	case errors.Is(err, domain.ErrMissingDeviceID):
		return apperrors.NewInvalidInputError("Missing device_id")
	case errors.Is(err, domain.ErrInvalidArgument):
		msg := strings.TrimPrefix(err.Error(), domain.ErrInvalidArgument.Error()+": ")
		return apperrors.NewInvalidInputError(msg)
	case errors.Is(err, domain.ErrDeviceIDMismatch):
		return apperrors.NewForbiddenError(err.Error())
	case errors.Is(err, domain.ErrPairingNotFound):
		return apperrors.NewNotFoundError("Pairing")
	}
	return apperrors.WrapError(err, apperrors.ErrCodeInternal, "Internal server error", 500)
}

func abortWith(c *gin.Context, err error) {
	c.Error(toAppError(err))
	c.Abort()
}

func missingField(c *gin.Context, field string) {
	c.Error(apperrors.NewInvalidInputError("Missing required field: " + field))
	c.Abort()
}

func invalidJSON(c *gin.Context) {
	c.Error(apperrors.NewInvalidInputError("Invalid JSON input"))
	c.Abort()
}
