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

// PolicyHandler exposes wash policy endpoints.
type PolicyHandler struct {
	policies *service.WashPolicyService
}

// NewPolicyHandler constructs PolicyHandler.
func NewPolicyHandler(policies *service.WashPolicyService) *PolicyHandler {
	return &PolicyHandler{policies: policies}
}

// List godoc
// @Summary List wash policies
// @Tags Policies
// @Produce json
// @Param active query bool false "Filter by active flag"
// @Param includeDeleted query bool false "Include soft-deleted policies"
// @Success 200 {object} response.Envelope
// @Router /policies [get]
func (h *PolicyHandler) List(c *gin.Context) {
	var filter models.WashPolicyFilter
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

	policies, pagination, err := h.policies.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policies, pagination)
}

// Get godoc
// @Summary Get a wash policy
// @Tags Policies
// @Produce json
// @Param id path string true "Policy ID"
// @Success 200 {object} response.Envelope
// @Router /policies/{id} [get]
func (h *PolicyHandler) Get(c *gin.Context) {
	policy, err := h.policies.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// GetActive godoc
// @Summary Get the currently active wash policy
// @Tags Policies
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /policies/active [get]
func (h *PolicyHandler) GetActive(c *gin.Context) {
	policy, err := h.policies.GetActive(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// Create godoc
// @Summary Create a wash policy
// @Tags Policies
// @Accept json
// @Produce json
// @Param payload body service.CreatePolicyInput true "Policy payload"
// @Success 201 {object} response.Envelope
// @Router /policies [post]
func (h *PolicyHandler) Create(c *gin.Context) {
	var req service.CreatePolicyInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	policy, err := h.policies.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, policy)
}

// Update godoc
// @Summary Update a wash policy
// @Tags Policies
// @Accept json
// @Produce json
// @Param id path string true "Policy ID"
// @Param payload body service.UpdatePolicyInput true "Policy payload"
// @Success 200 {object} response.Envelope
// @Router /policies/{id} [put]
func (h *PolicyHandler) Update(c *gin.Context) {
	var req service.UpdatePolicyInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	policy, err := h.policies.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// Activate godoc
// @Summary Activate a wash policy
// @Tags Policies
// @Produce json
// @Param id path string true "Policy ID"
// @Success 200 {object} response.Envelope
// @Router /policies/{id}/activate [post]
func (h *PolicyHandler) Activate(c *gin.Context) {
	policy, err := h.policies.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// Deactivate godoc
// @Summary Deactivate a wash policy
// @Tags Policies
// @Produce json
// @Param id path string true "Policy ID"
// @Success 200 {object} response.Envelope
// @Router /policies/{id}/deactivate [post]
func (h *PolicyHandler) Deactivate(c *gin.Context) {
	policy, err := h.policies.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// Delete godoc
// @Summary Soft-delete a wash policy
// @Tags Policies
// @Produce json
// @Param id path string true "Policy ID"
// @Success 204
// @Router /policies/{id} [delete]
func (h *PolicyHandler) Delete(c *gin.Context) {
	if err := h.policies.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Restore godoc
// @Summary Restore a soft-deleted wash policy
// @Tags Policies
// @Produce json
// @Param id path string true "Policy ID"
// @Success 200 {object} response.Envelope
// @Router /policies/{id}/restore [post]
func (h *PolicyHandler) Restore(c *gin.Context) {
	policy, err := h.policies.Restore(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}
