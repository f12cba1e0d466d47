package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenSensorCore/internal/storage"
	"github.com/KevinKickass/OpenSensorCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type scanDataRequest struct {
	Label  string          `json:"label"`
	Result json.RawMessage `json:"result"`

	// field names used by the original dashboard
	Button     string          `json:"button"`
	ScanResult json.RawMessage `json:"scanResult"`
}

// dashboardRecord adds the field names the original dashboard reads to a
// record. It is served on the unversioned routes.
type dashboardRecord struct {
	storage.ScanRecord
	Button     string          `json:"button"`
	ScanResult json.RawMessage `json:"scanResult"`
}

func toDashboard(rec storage.ScanRecord) dashboardRecord {
	return dashboardRecord{ScanRecord: rec, Button: rec.Label, ScanResult: rec.Result}
}

// GET /api/v1/scan-data, GET /api/scan-data
func (s *Server) listScanData(dashboard bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := s.lm.Store().List(c.Request.Context())
		if err != nil {
			s.logger.Error("Failed to read scan data", zap.Error(err))
			c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeStorage, "Failed to read scan data", err.Error()))
			return
		}

		if dashboard {
			out := make([]dashboardRecord, len(records))
			for i, rec := range records {
				out[i] = toDashboard(rec)
			}
			c.JSON(http.StatusOK, out)
			return
		}

		if records == nil {
			records = []storage.ScanRecord{}
		}
		c.JSON(http.StatusOK, records)
	}
}

// POST /api/v1/scan-data, POST /api/scan-data
func (s *Server) createScanData(dashboard bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		stored, ok := s.storeScanData(c)
		if !ok {
			return
		}
		if dashboard {
			c.JSON(http.StatusOK, toDashboard(stored))
			return
		}
		c.JSON(http.StatusOK, stored)
	}
}

func (s *Server) storeScanData(c *gin.Context) (storage.ScanRecord, bool) {
	var req scanDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeScanInvalid, "Invalid request body", err.Error()))
		return storage.ScanRecord{}, false
	}

	rec := storage.ScanRecord{Label: req.Label, Result: req.Result}
	if rec.Label == "" {
		rec.Label = req.Button
	}
	if len(rec.Result) == 0 {
		rec.Result = req.ScanResult
	}

	if rec.Label == "" || len(rec.Result) == 0 || string(rec.Result) == "null" {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeScanInvalid, "Missing required data", "label and result are required"))
		return storage.ScanRecord{}, false
	}

	stored, err := s.lm.Store().Append(c.Request.Context(), rec)
	if err != nil {
		s.logger.Error("Failed to save scan data", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeStorage, "Failed to save scan data", err.Error()))
		return storage.ScanRecord{}, false
	}
	return stored, true
}

// DELETE /api/v1/scan-data
func (s *Server) clearScanData(c *gin.Context) {
	if err := s.lm.Store().Clear(c.Request.Context()); err != nil {
		s.logger.Error("Failed to clear scan data", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeStorage, "Failed to clear scan data", err.Error()))
		return
	}

	s.logger.Info("Scan data cleared")
	c.JSON(http.StatusOK, gin.H{"message": "All scan data cleared"})
}

// DELETE /api/v1/scan-data/:index
func (s *Server) deleteScanData(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeScanInvalid, "Invalid index", err.Error()))
		return
	}

	if err := s.lm.Store().Delete(c.Request.Context(), index); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeScanNotFound, "Scan record not found", err.Error()))
			return
		}
		s.logger.Error("Failed to delete scan data", zap.Int("index", index), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeStorage, "Failed to delete scan data", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Scan record deleted"})
}
