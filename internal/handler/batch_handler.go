package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-laundry-api/internal/models"
	"github.com/noah-isme/sma-laundry-api/internal/service"
	appErrors "github.com/noah-isme/sma-laundry-api/pkg/errors"
	"github.com/noah-isme/sma-laundry-api/pkg/response"
)

// BatchHandler exposes batch and promotion endpoints.
type BatchHandler struct {
	batches    *service.BatchService
	promotions *service.PromotionService
}

// NewBatchHandler constructs BatchHandler.
func NewBatchHandler(batches *service.BatchService, promotions *service.PromotionService) *BatchHandler {
	return &BatchHandler{batches: batches, promotions: promotions}
}

// List godoc
// @Summary List batches
// @Tags Batches
// @Produce json
// @Param departmentId query string false "Filter by department"
// @Param active query bool false "Filter by active flag"
// @Param search query string false "Search by name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /batches [get]
func (h *BatchHandler) List(c *gin.Context) {
	var filter models.BatchFilter
	filter.DepartmentID = c.Query("departmentId")
	filter.Search = c.Query("search")
	filter.IncludeDeleted = c.Query("includeDeleted") == "true"
	if raw := c.Query("active"); raw != "" {
		active := raw == "true"
		filter.Active = &active
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	batches, pagination, err := h.batches.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batches, pagination)
}

// Get godoc
// @Summary Get a batch with its year schedule
// @Tags Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /batches/{id} [get]
func (h *BatchHandler) Get(c *gin.Context) {
	batch, err := h.batches.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// Create godoc
// @Summary Register a batch with its year schedule
// @Tags Batches
// @Accept json
// @Produce json
// @Param payload body service.CreateBatchInput true "Batch payload"
// @Success 201 {object} response.Envelope
// @Router /batches [post]
func (h *BatchHandler) Create(c *gin.Context) {
	var req service.CreateBatchInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	batch, err := h.batches.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, batch)
}

// Update godoc
// @Summary Update a batch
// @Tags Batches
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param payload body service.UpdateBatchInput true "Batch payload"
// @Success 200 {object} response.Envelope
// @Router /batches/{id} [put]
func (h *BatchHandler) Update(c *gin.Context) {
	var req service.UpdateBatchInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	batch, err := h.batches.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, batch, nil)
}

// Delete godoc
// @Summary Soft-delete a batch
// @Tags Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Success 204
// @Router /batches/{id} [delete]
func (h *BatchHandler) Delete(c *gin.Context) {
	if err := h.batches.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Years godoc
// @Summary List a batch's year schedule
// @Tags Batches
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/years [get]
func (h *BatchHandler) Years(c *gin.Context) {
	years, err := h.batches.Years(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, years, nil)
}

// UpdateYear godoc
// @Summary Update one entry of the year schedule
// @Tags Batches
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param yearNo path int true "Year number"
// @Param payload body service.YearScheduleInput true "Year schedule payload"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/years/{yearNo} [put]
func (h *BatchHandler) UpdateYear(c *gin.Context) {
	yearNo, err := strconv.Atoi(c.Param("yearNo"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid year number"))
		return
	}
	var req service.YearScheduleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	year, err := h.batches.UpdateYear(c.Request.Context(), c.Param("id"), yearNo, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, year, nil)
}

// Promote godoc
// @Summary Close the batch's current year and open the next
// @Tags Batches
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param payload body service.PromotePolicyOverride false "Optional allocation override for the opened plans"
// @Success 200 {object} response.Envelope
// @Router /batches/{id}/promote [post]
func (h *BatchHandler) Promote(c *gin.Context) {
	var override *service.PromotePolicyOverride
	if c.Request.ContentLength > 0 {
		var req service.PromotePolicyOverride
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
		override = &req
	}
	result, err := h.promotions.Promote(c.Request.Context(), c.Param("id"), override)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
