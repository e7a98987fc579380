package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"opencrm/api/internal/model"
	"opencrm/api/internal/service"
)

// PolicyHandler handles attendance policy administration
type PolicyHandler struct {
	policyService *service.PolicyService
}

// NewPolicyHandler creates a new policy handler
func NewPolicyHandler(policyService *service.PolicyService) *PolicyHandler {
	return &PolicyHandler{policyService: policyService}
}

// Get returns the caller organization's attendance policy
// @Summary Get attendance policy
// @Tags Policy
// @Produce json
// @Security BearerAuth
// @Success 200 {object} model.AttendancePolicy
// @Router /attendance/policy [get]
func (h *PolicyHandler) Get(c *gin.Context) {
	orgID, exists := c.Get("orgID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	policy, err := h.policyService.GetForOrg(c.Request.Context(), orgID.(uint))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, policy)
}

// Update replaces the caller organization's attendance policy
// @Summary Update attendance policy
// @Tags Policy
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param policy body model.AttendancePolicy true "Policy"
// @Success 200 {object} model.AttendancePolicy
// @Failure 400 {object} map[string]string
// @Router /attendance/policy [put]
func (h *PolicyHandler) Update(c *gin.Context) {
	orgID, exists := c.Get("orgID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var policy model.AttendancePolicy
	if err := c.ShouldBindJSON(&policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The policy always belongs to the caller's organization
	policy.OrgID = orgID.(uint)
	if userID, ok := c.Get("userID"); ok {
		uid := userID.(uint)
		policy.UpdatedBy = &uid
	}

	if err := h.policyService.Upsert(c.Request.Context(), &policy); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, policy)
}
