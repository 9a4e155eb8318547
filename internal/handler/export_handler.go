package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-laundry-api/internal/service"
	appErrors "github.com/noah-isme/sma-laundry-api/pkg/errors"
	"github.com/noah-isme/sma-laundry-api/pkg/response"
)

// ExportHandler streams rendered usage and history reports.
type ExportHandler struct {
	exports *service.ExportService
}

// NewExportHandler constructs ExportHandler.
func NewExportHandler(exports *service.ExportService) *ExportHandler {
	return &ExportHandler{exports: exports}
}

// BatchYearUsage godoc
// @Summary Export per-student allowance usage for a batch year
// @Tags Exports
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Batch ID"
// @Param yearNo path int true "Academic year number"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /exports/batches/{id}/years/{yearNo} [get]
func (h *ExportHandler) BatchYearUsage(c *gin.Context) {
	yearNo, err := strconv.Atoi(c.Param("yearNo"))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "yearNo must be a number"))
		return
	}
	format, err := service.ParseExportFormat(c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.exports.BatchYearUsage(c.Request.Context(), c.Param("id"), yearNo, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeExport(c, result)
}

// RequestHistory godoc
// @Summary Export a student's wash request history
// @Tags Exports
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Student ID"
// @Param from query string false "Drop-off date lower bound (RFC 3339)"
// @Param to query string false "Drop-off date upper bound (RFC 3339)"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /exports/students/{id}/requests [get]
func (h *ExportHandler) RequestHistory(c *gin.Context) {
	var from, to *time.Time
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "from must be an RFC 3339 timestamp"))
			return
		}
		from = &parsed
	}
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "to must be an RFC 3339 timestamp"))
			return
		}
		to = &parsed
	}
	format, err := service.ParseExportFormat(c.DefaultQuery("format", "csv"))
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.exports.RequestHistory(c.Request.Context(), c.Param("id"), from, to, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeExport(c, result)
}

func writeExport(c *gin.Context, result *service.ExportResult) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}
