package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-laundry-api/internal/models"
	"github.com/noah-isme/sma-laundry-api/internal/service"
	appErrors "github.com/noah-isme/sma-laundry-api/pkg/errors"
	"github.com/noah-isme/sma-laundry-api/pkg/response"
)

// RequestHandler exposes wash request endpoints.
type RequestHandler struct {
	wash *service.WashService
}

// NewRequestHandler constructs RequestHandler.
func NewRequestHandler(wash *service.WashService) *RequestHandler {
	return &RequestHandler{wash: wash}
}

// List godoc
// @Summary List wash requests
// @Tags Requests
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param planId query string false "Filter by plan"
// @Param status query string false "Filter by lifecycle status"
// @Param from query string false "Drop-off date lower bound (RFC 3339)"
// @Param to query string false "Drop-off date upper bound (RFC 3339)"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	var filter models.WashRequestFilter
	filter.StudentID = c.Query("studentId")
	filter.PlanID = c.Query("planId")
	filter.Status = models.WashStatus(c.Query("status"))
	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "from must be an RFC 3339 timestamp"))
			return
		}
		filter.From = &from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "to must be an RFC 3339 timestamp"))
			return
		}
		filter.To = &to
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

	requests, pagination, err := h.wash.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, pagination)
}

// Get godoc
// @Summary Get a wash request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Param includeDeleted query bool false "Include soft-deleted requests"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	request, err := h.wash.Get(c.Request.Context(), c.Param("id"), c.Query("includeDeleted") == "true")
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Create godoc
// @Summary Register a laundry drop-off and debit the plan
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body service.CreateWashRequestInput true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	var req service.CreateWashRequestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	// Student accounts can only drop off against their own plan.
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleStudent {
		if claims.StudentID == nil {
			response.Error(c, appErrors.ErrForbidden)
			return
		}
		req.StudentID = *claims.StudentID
	}
	request, err := h.wash.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Reweigh godoc
// @Summary Correct the recorded laundry weight
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body service.ReweighWashRequestInput true "Corrected weight"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/weight [put]
func (h *RequestHandler) Reweigh(c *gin.Context) {
	var req service.ReweighWashRequestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	outcome, err := h.wash.Reweigh(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// Transition godoc
// @Summary Move a wash request through its lifecycle
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body service.TransitionWashRequestInput true "Target status"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/status [put]
func (h *RequestHandler) Transition(c *gin.Context) {
	var req service.TransitionWashRequestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	request, err := h.wash.Transition(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Delete godoc
// @Summary Remove a wash request and release its held units
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 204
// @Router /requests/{id} [delete]
func (h *RequestHandler) Delete(c *gin.Context) {
	if err := h.wash.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
