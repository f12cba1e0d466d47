package rest

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/KevinKickass/OpenSensorCore/internal/acquisition"
	"github.com/KevinKickass/OpenSensorCore/internal/modbus"
	"github.com/KevinKickass/OpenSensorCore/internal/stats"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// POST /api/v1/acquisitions
func (s *Server) acquire(c *gin.Context) {
	var req acquisition.Request
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeInvalidRequest, "Invalid request body", err.Error()))
		return
	}

	// a client hanging up must not cut a session short
	ctx := context.WithoutCancel(c.Request.Context())

	res, err := s.lm.Acquirer().Acquire(ctx, req)
	if err != nil {
		status, body := acquisitionError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("Acquisition request failed",
				zap.String("label", req.Label),
				zap.Error(err))
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, res)
}

// GET /api/v1/acquisition/status
func (s *Server) getAcquisitionStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Acquirer().GetStatus())
}

func acquisitionError(err error) (int, types.ErrorResponse) {
	switch {
	case errors.Is(err, acquisition.ErrBusy):
		return http.StatusConflict,
			types.NewErrorResponse(types.CodeAcquisitionBusy, "Acquisition already in progress", err.Error())
	case errors.Is(err, acquisition.ErrInvalidRequest):
		return http.StatusBadRequest,
			types.NewErrorResponse(types.CodeInvalidRequest, "Invalid acquisition request", err.Error())
	case errors.Is(err, stats.ErrInsufficientSamples):
		return http.StatusUnprocessableEntity,
			types.NewErrorResponse(types.CodeInsufficientSamples, "No valid samples were read", err.Error())
	case errors.Is(err, modbus.ErrTransport):
		return http.StatusBadGateway,
			types.NewErrorResponse(types.CodeFieldBus, "Field device unreachable", err.Error())
	default:
		return http.StatusInternalServerError,
			types.NewErrorResponse(types.CodeAcquisitionFailed, "Acquisition failed", err.Error())
	}
}
