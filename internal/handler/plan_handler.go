package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-laundry-api/internal/models"
	"github.com/noah-isme/sma-laundry-api/internal/service"
	"github.com/noah-isme/sma-laundry-api/pkg/response"
)

// PlanHandler exposes wash plan endpoints.
type PlanHandler struct {
	plans *service.WashPlanService
}

// NewPlanHandler constructs PlanHandler.
func NewPlanHandler(plans *service.WashPlanService) *PlanHandler {
	return &PlanHandler{plans: plans}
}

// List godoc
// @Summary List wash plans
// @Tags Plans
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param batchId query string false "Filter by batch"
// @Param yearNo query int false "Filter by academic year number"
// @Param active query bool false "Filter by active flag"
// @Success 200 {object} response.Envelope
// @Router /plans [get]
func (h *PlanHandler) List(c *gin.Context) {
	var filter models.WashPlanFilter
	filter.StudentID = c.Query("studentId")
	filter.BatchID = c.Query("batchId")
	if raw := c.Query("yearNo"); raw != "" {
		if yearNo, err := strconv.Atoi(raw); err == nil {
			filter.YearNo = &yearNo
		}
	}
	if raw := c.Query("active"); raw != "" {
		active := raw == "true"
		filter.Active = &active
	}
	filter.IncludeDeleted = c.Query("includeDeleted") == "true"
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	plans, pagination, err := h.plans.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plans, pagination)
}

// Get godoc
// @Summary Get a wash plan
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /plans/{id} [get]
func (h *PlanHandler) Get(c *gin.Context) {
	plan, err := h.plans.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// Balance godoc
// @Summary Get a plan's balance
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /plans/{id}/balance [get]
func (h *PlanHandler) Balance(c *gin.Context) {
	balance, err := h.plans.Balance(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, balance, nil)
}

// Delete godoc
// @Summary Soft-delete a wash plan
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 204
// @Router /plans/{id} [delete]
func (h *PlanHandler) Delete(c *gin.Context) {
	if err := h.plans.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
