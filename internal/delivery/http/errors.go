package http

import (
	"errors"
	"net/http"

	"wordchain-server/internal/domain"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// handleServiceError переводит ошибки предметной области в HTTP-статусы.
func handleServiceError(c *gin.Context, err error, logger *zap.Logger) {
	var statusCode int
	var apiErr APIError

	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConfiguration):
		statusCode = http.StatusBadRequest
		apiErr = APIError{Message: err.Error()}
	case errors.Is(err, domain.ErrForbidden):
		statusCode = http.StatusForbidden
		apiErr = APIError{Message: "Access denied"}
	case errors.Is(err, domain.ErrNotFound):
		statusCode = http.StatusNotFound
		apiErr = APIError{Message: "Story not found"}
	case errors.Is(err, domain.ErrInvalidCode):
		statusCode = http.StatusNotFound
		apiErr = APIError{Message: "Invalid or expired session code"}
	case errors.Is(err, domain.ErrNotYourTurn),
		errors.Is(err, domain.ErrAlreadyFinished),
		errors.Is(err, domain.ErrSelfJoin),
		errors.Is(err, domain.ErrAlreadyPartnered),
		errors.Is(err, domain.ErrMismatchedBranch),
		errors.Is(err, domain.ErrConflict):
		statusCode = http.StatusConflict
		apiErr = APIError{Message: err.Error()}
	case errors.Is(err, domain.ErrTimeout):
		statusCode = http.StatusGatewayTimeout
		apiErr = APIError{Message: "Story backend did not respond in time"}
	case errors.Is(err, domain.ErrPersistence), errors.Is(err, domain.ErrCodeExhaustion):
		statusCode = http.StatusServiceUnavailable
		apiErr = APIError{Message: "Story backend is unavailable, try again later"}
	default:
		statusCode = http.StatusInternalServerError
		apiErr = APIError{Message: "Internal server error"}
	}

	if statusCode >= http.StatusInternalServerError {
		logger.Error("Service call failed", zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		logger.Debug("Request rejected", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(statusCode, apiErr)
}
